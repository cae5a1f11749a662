package genesis

import (
	"context"
	"sync"
	"testing"

	"github.com/mezonai/certsync/consensus"
	"github.com/mezonai/certsync/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu  sync.Mutex
	g   *Genesis
	put int
}

func (m *memStore) Genesis() *Genesis {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.g.Clone()
}

func (m *memStore) UpdateGenesis(fn func(*Genesis) (*Genesis, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, err := fn(m.g.Clone())
	if err != nil || next == nil {
		return err
	}
	m.g = next
	m.put++
	return nil
}

func testGenesis(t *testing.T, validators int) *Genesis {
	t.Helper()
	keys := make([]string, validators)
	for i := range keys {
		keys[i] = consensus.PublicKeyHex(consensus.GenerateKey())
	}
	return &Genesis{ChainID: 270, FirstBlock: 0, Validators: keys}
}

func TestCompare(t *testing.T) {
	g := testGenesis(t, 3)

	same := g.Clone()
	same.Validators = []string{g.Validators[2], g.Validators[0], g.Validators[1]}
	assert.Equal(t, Identical, g.Compare(same), "validator order is irrelevant")

	newer := g.Clone()
	newer.Fork = 1
	assert.Equal(t, Extension, g.Compare(newer))
	assert.Equal(t, Incompatible, newer.Compare(g), "older fork")

	otherChain := g.Clone()
	otherChain.ChainID = 271
	assert.Equal(t, Incompatible, g.Compare(otherChain))

	moved := g.Clone()
	moved.FirstBlock = 5
	moved.Fork = 1
	assert.Equal(t, Incompatible, g.Compare(moved))

	otherSet := testGenesis(t, 3)
	assert.Equal(t, Incompatible, g.Compare(otherSet))
}

func TestTryUpdate_AdoptThenIdempotent(t *testing.T) {
	st := &memStore{}
	g := testGenesis(t, 4)

	out, err := TryUpdate(context.Background(), st, g)
	require.NoError(t, err)
	assert.Equal(t, Adopted, out)

	for i := 0; i < 3; i++ {
		out, err = TryUpdate(context.Background(), st, g.Clone())
		require.NoError(t, err)
		assert.Equal(t, Unchanged, out)
	}
	assert.Equal(t, 1, st.put)
}

func TestTryUpdate_MismatchLeavesStoreUnchanged(t *testing.T) {
	st := &memStore{}
	g := testGenesis(t, 4)
	_, err := TryUpdate(context.Background(), st, g)
	require.NoError(t, err)

	_, err = TryUpdate(context.Background(), st, testGenesis(t, 4))
	require.ErrorIs(t, err, errors.ErrGenesisMismatch)
	assert.Equal(t, g, st.Genesis())
}

func TestTryUpdate_Extension(t *testing.T) {
	st := &memStore{}
	g := testGenesis(t, 1)
	_, err := TryUpdate(context.Background(), st, g)
	require.NoError(t, err)

	next := g.Clone()
	next.Fork = 2
	out, err := TryUpdate(context.Background(), st, next)
	require.NoError(t, err)
	assert.Equal(t, Extended, out)
	assert.EqualValues(t, 2, st.Genesis().Fork)

	_, err = TryUpdate(context.Background(), st, g)
	assert.ErrorIs(t, err, errors.ErrGenesisMismatch, "cannot roll back to an older fork")
}

func TestTryUpdate_InvalidCandidate(t *testing.T) {
	st := &memStore{}
	_, err := TryUpdate(context.Background(), st, &Genesis{ChainID: 1})
	require.ErrorIs(t, err, errors.ErrGenesisMismatch)
	assert.Nil(t, st.Genesis())
}

func TestTryUpdate_Concurrent(t *testing.T) {
	st := &memStore{}
	g := testGenesis(t, 4)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := TryUpdate(context.Background(), st, g.Clone())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, st.put)
}
