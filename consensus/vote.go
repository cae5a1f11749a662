package consensus

import (
	"fmt"

	"github.com/herumi/bls-eth-go-binary/bls"
	"github.com/mezonai/certsync/block"
	"github.com/mezonai/certsync/jsonx"
)

// Vote is one validator's signature over (chain, number, payload hash)
type Vote struct {
	ChainID     uint64       `json:"chain_id"`
	Number      block.Number `json:"number"`
	PayloadHash block.Hash   `json:"payload_hash"`
	PubKey      string       `json:"pub_key"` // BLS public key of voter
	Signature   []byte       `json:"signature"`
}

// signingBody is the message shared by votes and the certificate aggregating them
func signingBody(chainID uint64, n block.Number, hash block.Hash) []byte {
	data, _ := jsonx.Marshal(struct {
		ChainID     uint64
		Number      block.Number
		PayloadHash block.Hash
	}{
		ChainID:     chainID,
		Number:      n,
		PayloadHash: hash,
	})
	return data
}

func NewVote(chainID uint64, n block.Number, hash block.Hash) *Vote {
	return &Vote{ChainID: chainID, Number: n, PayloadHash: hash}
}

// Sign sets PubKey and Signature from the voter's secret key
func (v *Vote) Sign(priv *bls.SecretKey) {
	v.PubKey = PublicKeyHex(priv)
	v.Signature = priv.SignByte(signingBody(v.ChainID, v.Number, v.PayloadHash)).Serialize()
}

func (v *Vote) VerifySignature(pub *bls.PublicKey) bool {
	sig, err := bytesToSignature(v.Signature)
	if err != nil {
		return false
	}
	return sig.VerifyByte(pub, signingBody(v.ChainID, v.Number, v.PayloadHash))
}

func (v *Vote) Validate() error {
	if v.PubKey == "" {
		return fmt.Errorf("missing voter key")
	}
	if len(v.Signature) == 0 {
		return fmt.Errorf("missing signature")
	}
	return nil
}
