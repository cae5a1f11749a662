package genesis

import (
	"context"
	"fmt"

	"github.com/mezonai/certsync/errors"
	"github.com/mezonai/certsync/logx"
)

// Store is the part of the block store the reconciler needs. UpdateGenesis runs fn
// under the store's writer lock and persists the returned genesis unless it is nil.
type Store interface {
	Genesis() *Genesis
	UpdateGenesis(fn func(current *Genesis) (*Genesis, error)) error
}

type Outcome int

const (
	Unchanged Outcome = iota
	Adopted
	Extended
)

func (o Outcome) String() string {
	switch o {
	case Adopted:
		return "adopted"
	case Extended:
		return "extended"
	default:
		return "unchanged"
	}
}

// TryUpdate reconciles candidate with the stored genesis: adopt when none is stored,
// accept an identical one as a no-op, persist a compatible extension, and reject
// anything else with errors.ErrGenesisMismatch leaving the store untouched.
func TryUpdate(ctx context.Context, st Store, candidate *Genesis) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Unchanged, errors.Cancelled(err)
	}
	if err := candidate.Validate(); err != nil {
		return Unchanged, fmt.Errorf("%w: invalid candidate: %v", errors.ErrGenesisMismatch, err)
	}

	outcome := Unchanged
	err := st.UpdateGenesis(func(current *Genesis) (*Genesis, error) {
		if current == nil {
			outcome = Adopted
			return candidate.Clone(), nil
		}
		switch rel := current.Compare(candidate); rel {
		case Identical:
			return nil, nil
		case Extension:
			outcome = Extended
			return candidate.Clone(), nil
		default:
			return nil, fmt.Errorf("%w: local chain=%d first=%d fork=%d, candidate chain=%d first=%d fork=%d",
				errors.ErrGenesisMismatch,
				current.ChainID, current.FirstBlock, current.Fork,
				candidate.ChainID, candidate.FirstBlock, candidate.Fork)
		}
	})
	if err != nil {
		return Unchanged, err
	}

	if outcome != Unchanged {
		logx.Info("GENESIS", fmt.Sprintf("Genesis %s | chain=%d first_block=%d fork=%d validators=%d",
			outcome, candidate.ChainID, candidate.FirstBlock, candidate.Fork, len(candidate.Validators)))
	}
	return outcome, nil
}
