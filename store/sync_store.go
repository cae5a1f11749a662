package store

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/mezonai/certsync/block"
	"github.com/mezonai/certsync/consensus"
	"github.com/mezonai/certsync/db"
	"github.com/mezonai/certsync/genesis"
	"github.com/mezonai/certsync/jsonx"
	"github.com/pkg/errors"
)

// SyncStore is the durable side of the block store. Every Put is one atomic batch
// that writes the record together with the cursor it advances. Ordering and
// content rules are enforced by the caller.
type SyncStore interface {
	Payload(n block.Number) (*block.Payload, error)
	Payloads(from, to block.Number) ([]*block.Payload, error)
	PutPayload(p *block.Payload) error

	Certificate(n block.Number) (*consensus.Cert, error)
	PutCertificate(c *consensus.Cert) error

	Genesis() (*genesis.Genesis, error)
	PutGenesis(g *genesis.Genesis) error

	// First reports the lowest tracked block and whether the store was bootstrapped
	First() (block.Number, bool, error)
	InitFirst(n block.Number) error

	NextPayload() (block.Number, bool, error)
	NextCertificate() (block.Number, bool, error)
	HighestPayloadNumber() (block.Number, bool, error)
	HighestCertificateNumber() (block.Number, bool, error)

	Close() error
}

// GenericSyncStore implements SyncStore on any db.DatabaseProvider
type GenericSyncStore struct {
	provider db.DatabaseProvider
	txm      *db.DBTxManager
}

func NewGenericSyncStore(provider db.DatabaseProvider) (*GenericSyncStore, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider cannot be nil")
	}
	return &GenericSyncStore{
		provider: provider,
		txm:      db.NewDBTxManager(provider),
	}, nil
}

func (s *GenericSyncStore) getJSON(key []byte, out interface{}) (bool, error) {
	raw, err := s.provider.Get(key)
	if err != nil {
		return false, errors.WithMessagef(err, "get %q", key)
	}
	if raw == nil {
		return false, nil
	}
	if err := jsonx.Unmarshal(raw, out); err != nil {
		return false, errors.WithMessagef(err, "decode %q", key)
	}
	return true, nil
}

func (s *GenericSyncStore) getNumber(key string) (block.Number, bool, error) {
	raw, err := s.provider.Get([]byte(key))
	if err != nil {
		return 0, false, errors.WithMessagef(err, "get %s", key)
	}
	if raw == nil {
		return 0, false, nil
	}
	if len(raw) != 8 {
		return 0, false, fmt.Errorf("invalid %s value length: %d", key, len(raw))
	}
	return block.Number(binary.BigEndian.Uint64(raw)), true, nil
}

func (s *GenericSyncStore) Payload(n block.Number) (*block.Payload, error) {
	var p block.Payload
	ok, err := s.getJSON(payloadKey(n), &p)
	if err != nil || !ok {
		return nil, err
	}
	return &p, nil
}

// Payloads returns the stored payloads in [from, to], stopping at the first gap
func (s *GenericSyncStore) Payloads(from, to block.Number) ([]*block.Payload, error) {
	if to < from {
		return nil, nil
	}
	if it, ok := s.provider.(db.IterableProvider); ok {
		return s.scanPayloads(it, from, to)
	}

	keys := make([][]byte, 0, int(to-from)+1)
	for n := from; n <= to; n++ {
		keys = append(keys, payloadKey(n))
	}
	values, err := s.provider.GetBatch(keys)
	if err != nil {
		return nil, errors.WithMessage(err, "get payload batch")
	}

	out := make([]*block.Payload, 0, len(keys))
	for _, k := range keys {
		raw, ok := values[string(k)]
		if !ok {
			break
		}
		var p block.Payload
		if err := jsonx.Unmarshal(raw, &p); err != nil {
			return nil, errors.WithMessagef(err, "decode %q", k)
		}
		out = append(out, &p)
	}
	return out, nil
}

// scanPayloads reads the range in one ordered pass over the payload keys
func (s *GenericSyncStore) scanPayloads(it db.IterableProvider, from, to block.Number) ([]*block.Payload, error) {
	var (
		out       []*block.Payload
		decodeErr error
	)
	next := from
	err := it.IteratePrefix([]byte(PrefixPayload), payloadKey(from), func(key, value []byte) bool {
		if !bytes.Equal(key, payloadKey(next)) {
			return false
		}
		var p block.Payload
		if decodeErr = jsonx.Unmarshal(value, &p); decodeErr != nil {
			decodeErr = errors.WithMessagef(decodeErr, "decode %q", key)
			return false
		}
		out = append(out, &p)
		if next == to {
			return false
		}
		next++
		return true
	})
	if err != nil {
		return nil, errors.WithMessage(err, "scan payloads")
	}
	return out, decodeErr
}

func (s *GenericSyncStore) PutPayload(p *block.Payload) error {
	data, err := jsonx.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal payload %d: %w", p.Number, err)
	}
	return s.txm.WithBatch(func(batch db.DatabaseBatch) error {
		batch.Put(payloadKey(p.Number), data)
		batch.Put([]byte(KeyMetaNextPayload), encodeNumber(p.Number.Next()))
		return nil
	})
}

func (s *GenericSyncStore) Certificate(n block.Number) (*consensus.Cert, error) {
	var c consensus.Cert
	ok, err := s.getJSON(certKey(n), &c)
	if err != nil || !ok {
		return nil, err
	}
	return &c, nil
}

func (s *GenericSyncStore) PutCertificate(c *consensus.Cert) error {
	data, err := jsonx.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal certificate %d: %w", c.Number, err)
	}
	return s.txm.WithBatch(func(batch db.DatabaseBatch) error {
		batch.Put(certKey(c.Number), data)
		batch.Put([]byte(KeyMetaNextCertificate), encodeNumber(c.Number.Next()))
		return nil
	})
}

func (s *GenericSyncStore) Genesis() (*genesis.Genesis, error) {
	var g genesis.Genesis
	ok, err := s.getJSON([]byte(KeyGenesis), &g)
	if err != nil || !ok {
		return nil, err
	}
	return &g, nil
}

func (s *GenericSyncStore) PutGenesis(g *genesis.Genesis) error {
	data, err := jsonx.Marshal(g)
	if err != nil {
		return fmt.Errorf("failed to marshal genesis: %w", err)
	}
	return s.provider.Put([]byte(KeyGenesis), data)
}

func (s *GenericSyncStore) First() (block.Number, bool, error) {
	return s.getNumber(KeyMetaFirst)
}

// InitFirst records the first block once. Repeating the same value is a no-op.
func (s *GenericSyncStore) InitFirst(n block.Number) error {
	cur, ok, err := s.First()
	if err != nil {
		return err
	}
	if ok {
		if cur != n {
			return fmt.Errorf("store already starts at block %d, cannot restart at %d", cur, n)
		}
		return nil
	}
	return s.provider.Put([]byte(KeyMetaFirst), encodeNumber(n))
}

func (s *GenericSyncStore) NextPayload() (block.Number, bool, error) {
	return s.getNumber(KeyMetaNextPayload)
}

func (s *GenericSyncStore) NextCertificate() (block.Number, bool, error) {
	return s.getNumber(KeyMetaNextCertificate)
}

func (s *GenericSyncStore) HighestPayloadNumber() (block.Number, bool, error) {
	return highest(s.NextPayload())
}

func (s *GenericSyncStore) HighestCertificateNumber() (block.Number, bool, error) {
	return highest(s.NextCertificate())
}

func highest(next block.Number, ok bool, err error) (block.Number, bool, error) {
	if err != nil || !ok || next == 0 {
		return 0, false, err
	}
	return next - 1, true, nil
}

func (s *GenericSyncStore) Close() error {
	return s.provider.Close()
}
