package db

import "bytes"

// DatabaseProvider abstracts the low-level key/value operations the sync store needs.
// Every backend returns nil, nil from Get for a missing key.
type DatabaseProvider interface {
	// Get retrieves a value by key
	Get(key []byte) ([]byte, error)

	// GetBatch retrieves multiple values by keys in a single operation.
	// Missing keys are absent from the result.
	GetBatch(keys [][]byte) (map[string][]byte, error)

	// Put stores a key-value pair
	Put(key, value []byte) error

	// Delete removes a key-value pair
	Delete(key []byte) error

	// Has checks if a key exists
	Has(key []byte) (bool, error)

	// Close closes the database connection
	Close() error

	// Batch returns a new batch for atomic operations
	Batch() DatabaseBatch
}

// IterableProvider extends DatabaseProvider with ordered prefix scans
type IterableProvider interface {
	DatabaseProvider

	// IteratePrefix visits the keys with the given prefix that are >= start, in
	// ascending key order. A nil start begins at the prefix. The callback returns
	// false to stop iteration.
	IteratePrefix(prefix, start []byte, callback func(key, value []byte) bool) error
}

// seekKey is where a prefix scan from start begins
func seekKey(prefix, start []byte) []byte {
	if bytes.Compare(start, prefix) > 0 {
		return start
	}
	return prefix
}

// DatabaseBatch collects writes that are applied atomically by Write
type DatabaseBatch interface {
	Put(key, value []byte)
	Delete(key []byte)
	Write() error
	Reset()
	Close() error
}

// batchOp is the buffered write used by backends without a native batch type
type batchOp struct {
	key    []byte
	value  []byte
	delete bool
}

type opBuffer struct {
	ops []batchOp
}

func (b *opBuffer) Put(key, value []byte) {
	b.ops = append(b.ops, batchOp{
		key:   append([]byte(nil), key...),
		value: append([]byte(nil), value...),
	})
}

func (b *opBuffer) Delete(key []byte) {
	b.ops = append(b.ops, batchOp{key: append([]byte(nil), key...), delete: true})
}

func (b *opBuffer) Reset() {
	b.ops = b.ops[:0]
}

func (b *opBuffer) Close() error {
	b.ops = nil
	return nil
}
