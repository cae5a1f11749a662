package consensus

import (
	"fmt"

	"github.com/herumi/bls-eth-go-binary/bls"
	"github.com/mezonai/certsync/block"
	"github.com/mezonai/certsync/errors"
)

// Cert is a commit certificate: an aggregate BLS signature by a validator quorum
// binding a block number to its payload hash.
type Cert struct {
	ChainID      uint64       `json:"chain_id"`
	Number       block.Number `json:"number"`
	PayloadHash  block.Hash   `json:"payload_hash"`
	Signers      []string     `json:"signers"`
	AggregateSig []byte       `json:"aggregate_sig"`
}

// Equal is used for idempotent re-inserts
func (c *Cert) Equal(other *Cert) bool {
	if c == nil || other == nil {
		return c == other
	}
	if c.ChainID != other.ChainID || c.Number != other.Number || c.PayloadHash != other.PayloadHash {
		return false
	}
	if len(c.Signers) != len(other.Signers) || string(c.AggregateSig) != string(other.AggregateSig) {
		return false
	}
	for i := range c.Signers {
		if c.Signers[i] != other.Signers[i] {
			return false
		}
	}
	return true
}

// AggregateVotes builds a certificate from votes that all sign the same body
func AggregateVotes(votes []*Vote) (*Cert, error) {
	if len(votes) == 0 {
		return nil, fmt.Errorf("no votes to aggregate")
	}
	first := votes[0]
	cert := &Cert{
		ChainID:     first.ChainID,
		Number:      first.Number,
		PayloadHash: first.PayloadHash,
		Signers:     make([]string, 0, len(votes)),
	}

	sigs := make([]bls.Sign, 0, len(votes))
	for _, v := range votes {
		if v.ChainID != cert.ChainID || v.Number != cert.Number || v.PayloadHash != cert.PayloadHash {
			return nil, fmt.Errorf("vote from %s signs a different body", v.PubKey)
		}
		sig, err := bytesToSignature(v.Signature)
		if err != nil {
			return nil, err
		}
		sigs = append(sigs, sig)
		cert.Signers = append(cert.Signers, v.PubKey)
	}

	var agg bls.Sign
	agg.Aggregate(sigs)
	cert.AggregateSig = agg.Serialize()
	return cert, nil
}

// VerifyCert checks chain id, signer membership and uniqueness, quorum size and
// the aggregate signature. Failures match errors.ErrVerificationFailure.
func VerifyCert(cert *Cert, vs *ValidatorSet, chainID uint64) error {
	if cert == nil {
		return fmt.Errorf("%w: nil certificate", errors.ErrVerificationFailure)
	}
	if cert.ChainID != chainID {
		return fmt.Errorf("%w: chain id %d, want %d", errors.ErrVerificationFailure, cert.ChainID, chainID)
	}
	if len(cert.Signers) < vs.Quorum() {
		return fmt.Errorf("%w: %d signers below quorum %d", errors.ErrVerificationFailure, len(cert.Signers), vs.Quorum())
	}

	seen := make(map[string]struct{}, len(cert.Signers))
	pubs := make([]bls.PublicKey, 0, len(cert.Signers))
	for _, s := range cert.Signers {
		if _, dup := seen[s]; dup {
			return fmt.Errorf("%w: duplicate signer %s", errors.ErrVerificationFailure, s)
		}
		seen[s] = struct{}{}
		pk, ok := vs.PublicKey(s)
		if !ok {
			return fmt.Errorf("%w: unknown signer %s", errors.ErrVerificationFailure, s)
		}
		pubs = append(pubs, *pk)
	}

	agg, err := bytesToSignature(cert.AggregateSig)
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrVerificationFailure, err)
	}
	if !agg.FastAggregateVerify(pubs, signingBody(cert.ChainID, cert.Number, cert.PayloadHash)) {
		return fmt.Errorf("%w: bad aggregate signature for block %d", errors.ErrVerificationFailure, cert.Number)
	}
	return nil
}
