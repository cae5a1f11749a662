package consensus

import (
	"fmt"

	"github.com/herumi/bls-eth-go-binary/bls"
)

// ValidatorSet is the fixed committee whose quorum signs certificates
type ValidatorSet struct {
	keys []string
	pubs map[string]*bls.PublicKey
}

// NewValidatorSet parses hex BLS public keys; keys must be unique and non-empty
func NewValidatorSet(keys []string) (*ValidatorSet, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("validator set is empty")
	}
	vs := &ValidatorSet{
		keys: append([]string(nil), keys...),
		pubs: make(map[string]*bls.PublicKey, len(keys)),
	}
	for _, k := range keys {
		if _, dup := vs.pubs[k]; dup {
			return nil, fmt.Errorf("duplicate validator %s", k)
		}
		pk, err := ParsePublicKey(k)
		if err != nil {
			return nil, err
		}
		vs.pubs[k] = pk
	}
	return vs, nil
}

func (vs *ValidatorSet) Size() int {
	return len(vs.keys)
}

// Quorum is the smallest signer count that guarantees an honest majority with
// f = (n-1)/3 faulty members, i.e. n - f.
func (vs *ValidatorSet) Quorum() int {
	n := len(vs.keys)
	return n - (n-1)/3
}

func (vs *ValidatorSet) Contains(key string) bool {
	_, ok := vs.pubs[key]
	return ok
}

func (vs *ValidatorSet) PublicKey(key string) (*bls.PublicKey, bool) {
	pk, ok := vs.pubs[key]
	return pk, ok
}

func (vs *ValidatorSet) Keys() []string {
	return append([]string(nil), vs.keys...)
}
