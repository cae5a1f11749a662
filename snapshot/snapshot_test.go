package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mezonai/certsync/block"
	"github.com/mezonai/certsync/blockstore"
	"github.com/mezonai/certsync/consensus"
	"github.com/mezonai/certsync/db"
	"github.com/mezonai/certsync/genesis"
	"github.com/mezonai/certsync/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testChain = 3

// newSource holds payloads [0, blocks) with certificates [0, certified]
func newSource(t *testing.T, blocks int, certified block.Number) *blockstore.BlockStore {
	t.Helper()
	st, err := store.NewGenericSyncStore(db.NewMemLevelDBProvider())
	require.NoError(t, err)
	require.NoError(t, st.InitFirst(0))
	bs, err := blockstore.New(st, nil)
	require.NoError(t, err)

	key := consensus.GenerateKey()
	g := &genesis.Genesis{ChainID: testChain, Validators: []string{consensus.PublicKeyHex(key)}}
	_, err = genesis.TryUpdate(context.Background(), bs, g)
	require.NoError(t, err)

	for n := block.Number(0); n < block.Number(blocks); n++ {
		p := block.NewPayload(n, []byte{byte(n)})
		require.NoError(t, bs.QueuePayload(p))
		if n <= certified {
			v := consensus.NewVote(testChain, n, p.Hash())
			v.Sign(key)
			c, err := consensus.AggregateVotes([]*consensus.Vote{v})
			require.NoError(t, err)
			require.NoError(t, bs.StoreCertificate(c))
		}
	}
	return bs
}

func TestTake(t *testing.T) {
	bs := newSource(t, 10, 6)

	f, err := Take(bs, 4, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 4, f.Block)
	assert.Empty(t, f.Payloads)
	require.NotNil(t, f.Genesis)
	assert.EqualValues(t, testChain, f.Genesis.ChainID)

	f, err = Take(bs, 4, 4)
	require.NoError(t, err)
	require.Len(t, f.Payloads, 4)
	assert.EqualValues(t, 5, f.Payloads[0].Number)
	assert.EqualValues(t, 8, f.Payloads[3].Number)
	require.Len(t, f.Certificates, 2, "certificates 5 and 6")
	assert.EqualValues(t, 5, f.Certificates[0].Number)
	require.NoError(t, f.Validate())

	f, err = Take(bs, 8, 100)
	require.NoError(t, err)
	assert.Len(t, f.Payloads, 1)
	assert.Empty(t, f.Certificates)

	_, err = Take(bs, 10, 0)
	assert.Error(t, err, "block not held")
}

func TestWriteRead(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "old.json"), []byte("{}"), 0644))

	f, err := Take(newSource(t, 6, 5), 2, 3)
	require.NoError(t, err)

	path, err := Write(dir, f)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, FileName), path)
	assert.NoFileExists(t, filepath.Join(dir, "old.json"))

	got, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, f.Block, got.Block)
	require.Len(t, got.Payloads, 3)
	for i := range f.Payloads {
		assert.True(t, f.Payloads[i].Equal(got.Payloads[i]))
	}
	require.Len(t, got.Certificates, 3)
	for i := range f.Certificates {
		assert.True(t, f.Certificates[i].Equal(got.Certificates[i]))
	}
	assert.Equal(t, genesis.Identical, f.Genesis.Compare(got.Genesis))
}

func TestValidate(t *testing.T) {
	gap := &File{Block: 3, Payloads: []*block.Payload{block.NewPayload(5, nil)}}
	assert.Error(t, gap.Validate())

	orphanCert := &File{
		Block:        3,
		Payloads:     []*block.Payload{block.NewPayload(4, nil)},
		Certificates: []*consensus.Cert{{Number: 5}},
	}
	assert.Error(t, orphanCert.Validate())

	_, err := Write(t.TempDir(), gap)
	assert.Error(t, err)

	_, err = Read(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
