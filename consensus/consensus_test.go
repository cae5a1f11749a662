package consensus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/herumi/bls-eth-go-binary/bls"
	"github.com/mezonai/certsync/block"
	"github.com/mezonai/certsync/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCommittee(t *testing.T, n int) ([]*bls.SecretKey, *ValidatorSet) {
	t.Helper()
	keys := make([]*bls.SecretKey, n)
	hexKeys := make([]string, n)
	for i := range keys {
		keys[i] = GenerateKey()
		hexKeys[i] = PublicKeyHex(keys[i])
	}
	vs, err := NewValidatorSet(hexKeys)
	require.NoError(t, err)
	return keys, vs
}

func TestQuorum(t *testing.T) {
	cases := map[int]int{1: 1, 2: 2, 3: 3, 4: 3, 5: 4, 7: 5, 10: 7}
	for n, want := range cases {
		_, vs := testCommittee(t, n)
		assert.Equal(t, want, vs.Quorum(), "n=%d", n)
	}
}

func TestNewValidatorSet_Rejects(t *testing.T) {
	_, err := NewValidatorSet(nil)
	require.Error(t, err)

	k := PublicKeyHex(GenerateKey())
	_, err = NewValidatorSet([]string{k, k})
	require.Error(t, err)

	_, err = NewValidatorSet([]string{"zz"})
	require.Error(t, err)
}

func signedVotes(keys []*bls.SecretKey, chainID uint64, n block.Number, hash block.Hash) []*Vote {
	votes := make([]*Vote, len(keys))
	for i, sk := range keys {
		votes[i] = NewVote(chainID, n, hash)
		votes[i].Sign(sk)
	}
	return votes
}

func TestVerifyCert(t *testing.T) {
	keys, vs := testCommittee(t, 4)
	hash := block.NewPayload(3, []byte("p")).Hash()

	cert, err := AggregateVotes(signedVotes(keys[:3], 9, 3, hash))
	require.NoError(t, err)
	require.NoError(t, VerifyCert(cert, vs, 9))

	t.Run("wrong chain", func(t *testing.T) {
		assert.ErrorIs(t, VerifyCert(cert, vs, 10), errors.ErrVerificationFailure)
	})

	t.Run("below quorum", func(t *testing.T) {
		small, err := AggregateVotes(signedVotes(keys[:2], 9, 3, hash))
		require.NoError(t, err)
		assert.ErrorIs(t, VerifyCert(small, vs, 9), errors.ErrVerificationFailure)
	})

	t.Run("tampered hash", func(t *testing.T) {
		bad := *cert
		bad.PayloadHash = block.NewPayload(3, []byte("other")).Hash()
		assert.ErrorIs(t, VerifyCert(&bad, vs, 9), errors.ErrVerificationFailure)
	})

	t.Run("duplicate signer", func(t *testing.T) {
		bad := *cert
		bad.Signers = []string{cert.Signers[0], cert.Signers[0], cert.Signers[1]}
		assert.ErrorIs(t, VerifyCert(&bad, vs, 9), errors.ErrVerificationFailure)
	})

	t.Run("outsider", func(t *testing.T) {
		outsider := GenerateKey()
		votes := append(signedVotes(keys[:2], 9, 3, hash), signedVotes([]*bls.SecretKey{outsider}, 9, 3, hash)...)
		forged, err := AggregateVotes(votes)
		require.NoError(t, err)
		assert.ErrorIs(t, VerifyCert(forged, vs, 9), errors.ErrVerificationFailure)
	})
}

func TestCollector_ThresholdAndDuplicates(t *testing.T) {
	keys, vs := testCommittee(t, 4)
	c := NewCollector(1, vs)
	hash := block.NewPayload(0, nil).Hash()
	votes := signedVotes(keys, 1, 0, hash)

	reached, err := c.AddVote(votes[0])
	require.NoError(t, err)
	assert.False(t, reached)

	reached, err = c.AddVote(votes[0])
	require.NoError(t, err, "identical vote is idempotent")
	assert.False(t, reached)

	_, err = c.AddVote(votes[1])
	require.NoError(t, err)
	reached, err = c.AddVote(votes[2])
	require.NoError(t, err)
	assert.True(t, reached)
	assert.Len(t, c.Votes(0, hash), 3)

	forged := *votes[3]
	forged.PayloadHash = block.Hash{1}
	_, err = c.AddVote(&forged)
	assert.Error(t, err, "signature does not cover the altered hash")
}

type loopback struct {
	mu    sync.Mutex
	peers []*LocalEngine
}

func (l *loopback) BroadcastVote(_ context.Context, v *Vote) error {
	l.mu.Lock()
	peers := append([]*LocalEngine(nil), l.peers...)
	l.mu.Unlock()
	for _, p := range peers {
		_ = p.AddVote(v)
	}
	return nil
}

func TestLocalEngine_SingleNodeCommittee(t *testing.T) {
	keys, vs := testCommittee(t, 4)
	e, err := NewLocalEngine(5, vs, keys, nil)
	require.NoError(t, err)

	hash := block.NewPayload(1, []byte("x")).Hash()
	cert, err := e.Certify(context.Background(), 1, hash)
	require.NoError(t, err)
	assert.True(t, e.Verify(cert, vs))
	assert.Equal(t, hash, cert.PayloadHash)

	again, err := e.Certify(context.Background(), 1, hash)
	require.NoError(t, err)
	assert.True(t, cert.Equal(again))
}

func TestLocalEngine_DistributedVotes(t *testing.T) {
	keys, vs := testCommittee(t, 4)
	net := &loopback{}
	engines := make([]*LocalEngine, 3)
	for i := range engines {
		e, err := NewLocalEngine(5, vs, keys[i:i+1], net)
		require.NoError(t, err)
		engines[i] = e
	}
	net.peers = engines

	hash := block.NewPayload(2, []byte("y")).Hash()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	certs := make([]*Cert, len(engines))
	for i, e := range engines {
		wg.Add(1)
		go func(i int, e *LocalEngine) {
			defer wg.Done()
			c, err := e.Certify(ctx, 2, hash)
			assert.NoError(t, err)
			certs[i] = c
		}(i, e)
	}
	wg.Wait()

	for _, c := range certs {
		require.NotNil(t, c)
		assert.NoError(t, VerifyCert(c, vs, 5))
	}
}

func TestLocalEngine_CertifyCancelled(t *testing.T) {
	keys, vs := testCommittee(t, 4)
	e, err := NewLocalEngine(5, vs, keys[:1], nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = e.Certify(ctx, 1, block.Hash{})
	assert.True(t, errors.IsCancelled(err))
}

func TestNewLocalEngine_RejectsForeignKey(t *testing.T) {
	_, vs := testCommittee(t, 1)
	_, err := NewLocalEngine(1, vs, []*bls.SecretKey{GenerateKey()}, nil)
	assert.Error(t, err)
}
