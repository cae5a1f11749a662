package consensus

import (
	"fmt"

	"github.com/herumi/bls-eth-go-binary/bls"
)

func init() {
	if err := bls.Init(bls.BLS12_381); err != nil {
		panic(fmt.Sprintf("bls init: %v", err))
	}
	if err := bls.SetETHmode(bls.EthModeDraft07); err != nil {
		panic(fmt.Sprintf("bls eth mode: %v", err))
	}
}

// GenerateKey returns a fresh BLS secret key
func GenerateKey() *bls.SecretKey {
	var sk bls.SecretKey
	sk.SetByCSPRNG()
	return &sk
}

// PublicKeyHex is the validator identity used in genesis files and certificates
func PublicKeyHex(sk *bls.SecretKey) string {
	return sk.GetPublicKey().SerializeToHexStr()
}

func ParsePublicKey(hexKey string) (*bls.PublicKey, error) {
	var pk bls.PublicKey
	if err := pk.DeserializeHexStr(hexKey); err != nil {
		return nil, fmt.Errorf("invalid BLS public key %q: %w", hexKey, err)
	}
	return &pk, nil
}

func ParseSecretKey(hexKey string) (*bls.SecretKey, error) {
	var sk bls.SecretKey
	if err := sk.DeserializeHexStr(hexKey); err != nil {
		return nil, fmt.Errorf("invalid BLS secret key: %w", err)
	}
	return &sk, nil
}

func bytesToSignature(raw []byte) (bls.Sign, error) {
	var sig bls.Sign
	if err := sig.Deserialize(raw); err != nil {
		return sig, fmt.Errorf("invalid BLS signature: %w", err)
	}
	return sig, nil
}
