package p2p

import (
	"crypto/rand"
	"fmt"
	"os"
	"strings"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/mr-tron/base58"
)

// GenerateIdentity creates a fresh Ed25519 host key
func GenerateIdentity() (crypto.PrivKey, error) {
	priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return priv, nil
}

// EncodeIdentity renders a host key as base58 of its protobuf encoding
func EncodeIdentity(priv crypto.PrivKey) (string, error) {
	raw, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return "", err
	}
	return base58.Encode(raw), nil
}

func DecodeIdentity(s string) (crypto.PrivKey, error) {
	raw, err := base58.Decode(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("decode identity: %w", err)
	}
	return crypto.UnmarshalPrivateKey(raw)
}

func LoadIdentity(path string) (crypto.PrivKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read identity file: %w", err)
	}
	return DecodeIdentity(string(data))
}

func PeerIDOf(priv crypto.PrivKey) (peer.ID, error) {
	return peer.IDFromPrivateKey(priv)
}
