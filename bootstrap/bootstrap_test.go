package bootstrap

import (
	"context"
	"testing"

	"github.com/herumi/bls-eth-go-binary/bls"
	"github.com/mezonai/certsync/block"
	"github.com/mezonai/certsync/blockstore"
	"github.com/mezonai/certsync/consensus"
	"github.com/mezonai/certsync/db"
	"github.com/mezonai/certsync/errors"
	"github.com/mezonai/certsync/genesis"
	"github.com/mezonai/certsync/snapshot"
	"github.com/mezonai/certsync/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testChain = 5

func newSyncStore(t *testing.T) store.SyncStore {
	t.Helper()
	st, err := store.NewGenericSyncStore(db.NewMemLevelDBProvider())
	require.NoError(t, err)
	return st
}

func testGenesis(key *bls.SecretKey) *genesis.Genesis {
	return &genesis.Genesis{ChainID: testChain, FirstBlock: 0, Validators: []string{consensus.PublicKeyHex(key)}}
}

func certify(t *testing.T, key *bls.SecretKey, p *block.Payload) *consensus.Cert {
	t.Helper()
	v := consensus.NewVote(testChain, p.Number, p.Hash())
	v.Sign(key)
	c, err := consensus.AggregateVotes([]*consensus.Vote{v})
	require.NoError(t, err)
	return c
}

func trailingSnapshot(t *testing.T, key *bls.SecretKey, at block.Number, trailing int, certified int) *snapshot.File {
	t.Helper()
	f := &snapshot.File{Block: at, Genesis: testGenesis(key)}
	for i := 0; i < trailing; i++ {
		p := block.NewPayload(at+1+block.Number(i), []byte{byte(i), 0x42})
		f.Payloads = append(f.Payloads, p)
		if i < certified {
			f.Certificates = append(f.Certificates, certify(t, key, p))
		}
	}
	return f
}

func TestFromGenesis(t *testing.T) {
	ctx := context.Background()
	st := newSyncStore(t)
	g := testGenesis(consensus.GenerateKey())

	require.NoError(t, FromGenesis(ctx, st, g))
	require.NoError(t, FromGenesis(ctx, st, g), "idempotent")

	bs, err := blockstore.New(st, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 0, bs.First())
	assert.Equal(t, genesis.Identical, g.Compare(bs.Genesis()))

	other := testGenesis(consensus.GenerateKey())
	assert.ErrorIs(t, FromGenesis(ctx, st, other), errors.ErrGenesisMismatch)
}

func TestFromGenesis_WithoutGenesis(t *testing.T) {
	st := newSyncStore(t)
	require.NoError(t, FromGenesis(context.Background(), st, nil))

	bs, err := blockstore.New(st, nil)
	require.NoError(t, err)
	assert.Nil(t, bs.Genesis())
}

func TestFromSnapshot(t *testing.T) {
	ctx := context.Background()
	key := consensus.GenerateKey()
	snap := trailingSnapshot(t, key, 9, 4, 2)

	st := newSyncStore(t)
	require.NoError(t, FromSnapshot(ctx, st, snap))
	require.NoError(t, FromSnapshot(ctx, st, snap), "idempotent")

	bs, err := blockstore.New(st, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 10, bs.First())
	assert.EqualValues(t, 14, bs.NextPayload())
	assert.EqualValues(t, 12, bs.NextCertificate())
	assert.EqualValues(t, 10, bs.CertificateFirst())

	before, err := bs.Payload(9)
	require.NoError(t, err)
	assert.Nil(t, before)

	assert.Error(t, FromSnapshot(ctx, st, trailingSnapshot(t, key, 4, 0, 0)), "different first block")
	assert.Error(t, FromGenesis(ctx, st, nil), "different first block")
}

func TestFromSnapshot_RejectsForgedCertificate(t *testing.T) {
	key := consensus.GenerateKey()
	snap := trailingSnapshot(t, key, 0, 2, 0)
	snap.Certificates = []*consensus.Cert{certify(t, consensus.GenerateKey(), snap.Payloads[0])}

	err := FromSnapshot(context.Background(), newSyncStore(t), snap)
	assert.ErrorIs(t, err, errors.ErrVerificationFailure)
}

func TestFromSnapshot_CertificatesNeedGenesis(t *testing.T) {
	key := consensus.GenerateKey()
	snap := trailingSnapshot(t, key, 0, 1, 1)
	snap.Genesis = nil

	err := FromSnapshot(context.Background(), newSyncStore(t), snap)
	assert.ErrorIs(t, err, errors.ErrNoGenesis)
}
