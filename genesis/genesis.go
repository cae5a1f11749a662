package genesis

import (
	"fmt"
	"sort"

	"github.com/mezonai/certsync/block"
	"github.com/mezonai/certsync/consensus"
)

// Genesis fixes the chain a store belongs to: the validator committee and the first
// block that committee certifies. Fork increases when the chain is restarted from a
// later configuration under the same identity.
type Genesis struct {
	ChainID    uint64       `json:"chain_id" yaml:"chain_id"`
	FirstBlock block.Number `json:"first_block" yaml:"first_block"`
	Validators []string     `json:"validators" yaml:"validators"`
	Fork       uint64       `json:"fork" yaml:"fork"`
}

type Relation int

const (
	Identical Relation = iota
	Extension
	Incompatible
)

func (r Relation) String() string {
	switch r {
	case Identical:
		return "identical"
	case Extension:
		return "extension"
	default:
		return "incompatible"
	}
}

func (g *Genesis) Validate() error {
	if g == nil {
		return fmt.Errorf("genesis is nil")
	}
	if g.ChainID == 0 {
		return fmt.Errorf("genesis chain id must be non-zero")
	}
	if _, err := consensus.NewValidatorSet(g.Validators); err != nil {
		return fmt.Errorf("genesis validators: %w", err)
	}
	return nil
}

func (g *Genesis) ValidatorSet() (*consensus.ValidatorSet, error) {
	return consensus.NewValidatorSet(g.Validators)
}

func (g *Genesis) Clone() *Genesis {
	if g == nil {
		return nil
	}
	c := *g
	c.Validators = append([]string(nil), g.Validators...)
	return &c
}

// Compare classifies candidate relative to g
func (g *Genesis) Compare(candidate *Genesis) Relation {
	if g.ChainID != candidate.ChainID ||
		g.FirstBlock != candidate.FirstBlock ||
		!sameValidators(g.Validators, candidate.Validators) {
		return Incompatible
	}
	switch {
	case candidate.Fork == g.Fork:
		return Identical
	case candidate.Fork > g.Fork:
		return Extension
	default:
		return Incompatible
	}
}

func sameValidators(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
