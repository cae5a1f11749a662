package validator

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/herumi/bls-eth-go-binary/bls"
	"github.com/mezonai/certsync/block"
	"github.com/mezonai/certsync/blockstore"
	"github.com/mezonai/certsync/consensus"
	"github.com/mezonai/certsync/db"
	"github.com/mezonai/certsync/errors"
	"github.com/mezonai/certsync/genesis"
	"github.com/mezonai/certsync/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testChain = 7

var testConfig = Config{RetryDelay: time.Millisecond, MaxRetryDelay: 5 * time.Millisecond}

func newStore(t *testing.T, keys []*bls.SecretKey) (*blockstore.BlockStore, *consensus.ValidatorSet) {
	t.Helper()
	st, err := store.NewGenericSyncStore(db.NewMemLevelDBProvider())
	require.NoError(t, err)
	require.NoError(t, st.InitFirst(0))
	bs, err := blockstore.New(st, nil)
	require.NoError(t, err)

	hexKeys := make([]string, len(keys))
	for i, k := range keys {
		hexKeys[i] = consensus.PublicKeyHex(k)
	}
	g := &genesis.Genesis{ChainID: testChain, Validators: hexKeys}
	_, err = genesis.TryUpdate(context.Background(), bs, g)
	require.NoError(t, err)

	vs, err := g.ValidatorSet()
	require.NoError(t, err)
	return bs, vs
}

func newEngine(t *testing.T, vs *consensus.ValidatorSet, keys []*bls.SecretKey) *consensus.LocalEngine {
	t.Helper()
	e, err := consensus.NewLocalEngine(testChain, vs, keys, nil)
	require.NoError(t, err)
	return e
}

func fill(t *testing.T, bs *blockstore.BlockStore, from, to block.Number) {
	t.Helper()
	for n := from; n < to; n++ {
		require.NoError(t, bs.QueuePayload(block.NewPayload(n, []byte{byte(n), byte(n * 3)})))
	}
}

// runUntil runs the validator until the certificate for n is persisted, then stops it
func runUntil(t *testing.T, v *Validator, bs *blockstore.BlockStore, n block.Number) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- v.Run(ctx) }()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer waitCancel()
	require.NoError(t, bs.WaitUntilCertificatePersisted(waitCtx, n))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err, "cancellation is graceful")
	case <-time.After(5 * time.Second):
		t.Fatal("validator did not stop")
	}
}

func TestValidator_Contiguity(t *testing.T) {
	keys := []*bls.SecretKey{consensus.GenerateKey(), consensus.GenerateKey(), consensus.GenerateKey()}
	bs, vs := newStore(t, keys)
	v := New(bs, newEngine(t, vs, keys), testConfig)

	fill(t, bs, 0, 5)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- v.Run(ctx) }()

	// new payloads keep arriving while the backlog drains
	fill(t, bs, 5, 12)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer waitCancel()
	require.NoError(t, bs.WaitUntilCertificatePersisted(waitCtx, 11))
	cancel()
	require.NoError(t, <-done)

	last, ok := bs.LastCertificate()
	require.True(t, ok)
	for n := block.Number(0); n <= last; n++ {
		c, err := bs.Certificate(n)
		require.NoError(t, err)
		require.NotNil(t, c, "gap at %d", n)
		p, err := bs.Payload(n)
		require.NoError(t, err)
		assert.Equal(t, p.Hash(), c.PayloadHash)
		assert.NoError(t, consensus.VerifyCert(c, vs, testChain))
	}
}

func TestValidator_BackfillDeterminism(t *testing.T) {
	keys := []*bls.SecretKey{consensus.GenerateKey()}

	batchStore, vs := newStore(t, keys)
	fill(t, batchStore, 0, 10)
	runUntil(t, New(batchStore, newEngine(t, vs, keys), testConfig), batchStore, 9)

	stepStore, vs2 := newStore(t, keys)
	fill(t, stepStore, 0, 10)
	for n := block.Number(0); n < 10; n++ {
		// fresh engine and role per block, as after a restart
		runUntil(t, New(stepStore, newEngine(t, vs2, keys), testConfig), stepStore, n)
	}

	for n := block.Number(0); n < 10; n++ {
		a, err := batchStore.Certificate(n)
		require.NoError(t, err)
		b, err := stepStore.Certificate(n)
		require.NoError(t, err)
		require.NotNil(t, a)
		require.NotNil(t, b)
		assert.True(t, a.Equal(b), "certificate %d differs", n)
	}
}

type flakyEngine struct {
	inner    consensus.Engine
	failures atomic.Int32
}

func (f *flakyEngine) Certify(ctx context.Context, n block.Number, h block.Hash) (*consensus.Cert, error) {
	if f.failures.Add(-1) >= 0 {
		return nil, errors.ErrUnavailable
	}
	return f.inner.Certify(ctx, n, h)
}

func (f *flakyEngine) Verify(c *consensus.Cert, vs *consensus.ValidatorSet) bool {
	return f.inner.Verify(c, vs)
}

func TestValidator_RetriesEngineErrors(t *testing.T) {
	keys := []*bls.SecretKey{consensus.GenerateKey()}
	bs, vs := newStore(t, keys)
	fill(t, bs, 0, 2)

	engine := &flakyEngine{inner: newEngine(t, vs, keys)}
	engine.failures.Store(3)
	runUntil(t, New(bs, engine, testConfig), bs, 1)
}

type lyingEngine struct{}

func (lyingEngine) Certify(_ context.Context, n block.Number, _ block.Hash) (*consensus.Cert, error) {
	return &consensus.Cert{ChainID: testChain, Number: n, PayloadHash: block.Hash{0xFF}}, nil
}

func (lyingEngine) Verify(*consensus.Cert, *consensus.ValidatorSet) bool { return true }

func TestValidator_ContentMismatchStopsRole(t *testing.T) {
	bs, _ := newStore(t, []*bls.SecretKey{consensus.GenerateKey()})
	fill(t, bs, 0, 1)

	err := New(bs, lyingEngine{}, testConfig).Run(context.Background())
	require.ErrorIs(t, err, errors.ErrContentMismatch)
	_, ok := bs.LastCertificate()
	assert.False(t, ok)
}

func TestValidator_RequiresGenesis(t *testing.T) {
	st, err := store.NewGenericSyncStore(db.NewMemLevelDBProvider())
	require.NoError(t, err)
	require.NoError(t, st.InitFirst(0))
	bs, err := blockstore.New(st, nil)
	require.NoError(t, err)

	err = New(bs, lyingEngine{}, testConfig).Run(context.Background())
	assert.ErrorIs(t, err, errors.ErrNoGenesis)
}
