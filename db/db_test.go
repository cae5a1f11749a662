package db

import (
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func numberedKey(prefix string, n uint64) []byte {
	k := make([]byte, len(prefix)+8)
	copy(k, prefix)
	binary.BigEndian.PutUint64(k[len(prefix):], n)
	return k
}

func exerciseProvider(t *testing.T, p IterableProvider) {
	t.Helper()

	v, err := p.Get([]byte("missing"))
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, p.Put([]byte("genesis"), []byte("g")))
	has, err := p.Has([]byte("genesis"))
	require.NoError(t, err)
	assert.True(t, has)

	tm := NewDBTxManager(p)
	err = tm.WithBatch(func(b DatabaseBatch) error {
		for n := uint64(3); n > 0; n-- {
			b.Put(numberedKey("payload:", n), []byte{byte(n)})
		}
		b.Delete([]byte("genesis"))
		return nil
	})
	require.NoError(t, err)

	has, err = p.Has([]byte("genesis"))
	require.NoError(t, err)
	assert.False(t, has)

	got, err := p.GetBatch([][]byte{numberedKey("payload:", 1), numberedKey("payload:", 9)})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, []byte{1}, got[string(numberedKey("payload:", 1))])

	var seen []byte
	err = p.IteratePrefix([]byte("payload:"), nil, func(_, value []byte) bool {
		seen = append(seen, value...)
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, seen, "prefix scan is ordered by key")

	seen = nil
	err = p.IteratePrefix([]byte("payload:"), numberedKey("payload:", 2), func(_, value []byte) bool {
		seen = append(seen, value...)
		return len(seen) < 1
	})
	require.NoError(t, err)
	assert.Equal(t, []byte{2}, seen, "scan starts at start and stops when the callback returns false")
}

func TestLevelDBProvider_Memory(t *testing.T) {
	p := NewMemLevelDBProvider()
	defer p.Close()
	exerciseProvider(t, p)
}

func TestLevelDBProvider_Disk(t *testing.T) {
	p, err := NewLevelDBProvider(filepath.Join(t.TempDir(), "ldb"))
	require.NoError(t, err)
	exerciseProvider(t, p)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close(), "double close is a no-op")
}

func TestBoltProvider(t *testing.T) {
	p, err := NewBoltProvider(filepath.Join(t.TempDir(), "certsync.db"))
	require.NoError(t, err)
	defer p.Close()
	exerciseProvider(t, p)
}

func TestWithBatch_DiscardsOnError(t *testing.T) {
	p := NewMemLevelDBProvider()
	defer p.Close()

	err := NewDBTxManager(p).WithBatch(func(b DatabaseBatch) error {
		b.Put([]byte("k"), []byte("v"))
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	v, err := p.Get([]byte("k"))
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestRedisKeyEncoding(t *testing.T) {
	key := numberedKey("cert:", 42)
	assert.Equal(t, "cert:42", readableKey(key))
	assert.Equal(t, key, binaryKey("cert:42"))
	assert.Equal(t, "genesis", readableKey([]byte("genesis")))
	assert.Equal(t, []byte("meta/first"), binaryKey("meta/first"))
}
