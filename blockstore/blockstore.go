package blockstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/mezonai/certsync/block"
	"github.com/mezonai/certsync/consensus"
	"github.com/mezonai/certsync/errors"
	"github.com/mezonai/certsync/events"
	"github.com/mezonai/certsync/genesis"
	"github.com/mezonai/certsync/logx"
	"github.com/mezonai/certsync/store"
)

// BlockStore tracks which payloads and certificates a node holds and lets
// producers, the certifying role and fetchers advance them independently.
//
// Payloads occupy [first, NextPayload). Certificates occupy
// [CertificateFirst, NextCertificate), where CertificateFirst is
// max(first, genesis.FirstBlock): blocks before the genesis can never be certified.
type BlockStore struct {
	st  store.SyncStore
	bus *events.EventBus

	// writeMu serializes writers for the whole read-check-write sequence
	writeMu sync.Mutex

	// stateMu guards the cursor fields below; held only briefly
	stateMu     sync.RWMutex
	first       block.Number
	nextPayload block.Number
	nextCert    block.Number
	hasCerts    bool
	genesis     *genesis.Genesis
	advanced    chan struct{} // closed and replaced whenever a cursor moves
}

// Status is a consistent snapshot of the cursors
type Status struct {
	First            block.Number  `json:"first"`
	NextPayload      block.Number  `json:"next_payload"`
	NextCertificate  block.Number  `json:"next_certificate"`
	CertificateFirst block.Number  `json:"certificate_first"`
	LastPayload      *block.Number `json:"last_payload,omitempty"`
	LastCertificate  *block.Number `json:"last_certificate,omitempty"`

	// HighestKnown is the highest block announced by peers; filled in by the RPC server
	HighestKnown *block.Number `json:"highest_known,omitempty"`
}

// New loads the cursors from st. The store must have been bootstrapped.
func New(st store.SyncStore, bus *events.EventBus) (*BlockStore, error) {
	first, ok, err := st.First()
	if err != nil {
		return nil, fmt.Errorf("load first block: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("store is not bootstrapped, run init first")
	}

	nextPayload, ok, err := st.NextPayload()
	if err != nil {
		return nil, fmt.Errorf("load payload cursor: %w", err)
	}
	if !ok || nextPayload < first {
		nextPayload = first
	}

	nextCert, hasCerts, err := st.NextCertificate()
	if err != nil {
		return nil, fmt.Errorf("load certificate cursor: %w", err)
	}

	g, err := st.Genesis()
	if err != nil {
		return nil, fmt.Errorf("load genesis: %w", err)
	}

	bs := &BlockStore{
		st:          st,
		bus:         bus,
		first:       first,
		nextPayload: nextPayload,
		nextCert:    nextCert,
		hasCerts:    hasCerts,
		genesis:     g,
		advanced:    make(chan struct{}),
	}
	logx.Info("BLOCKSTORE", fmt.Sprintf("Loaded | first=%d next_payload=%d next_certificate=%d genesis=%t",
		first, nextPayload, bs.NextCertificate(), g != nil))
	return bs, nil
}

// notify wakes every waiter; caller holds stateMu for writing
func (bs *BlockStore) notify() {
	close(bs.advanced)
	bs.advanced = make(chan struct{})
}

func (bs *BlockStore) publish(ev events.SyncEvent) {
	if bs.bus != nil {
		bs.bus.Publish(ev)
	}
}

func (bs *BlockStore) certificateFirstLocked() block.Number {
	if bs.genesis != nil && bs.genesis.FirstBlock > bs.first {
		return bs.genesis.FirstBlock
	}
	return bs.first
}

func (bs *BlockStore) nextCertificateLocked() block.Number {
	cf := bs.certificateFirstLocked()
	if bs.hasCerts && bs.nextCert > cf {
		return bs.nextCert
	}
	return cf
}

func (bs *BlockStore) First() block.Number {
	bs.stateMu.RLock()
	defer bs.stateMu.RUnlock()
	return bs.first
}

func (bs *BlockStore) NextPayload() block.Number {
	bs.stateMu.RLock()
	defer bs.stateMu.RUnlock()
	return bs.nextPayload
}

// CertificateFirst is the lowest block that can carry a certificate
func (bs *BlockStore) CertificateFirst() block.Number {
	bs.stateMu.RLock()
	defer bs.stateMu.RUnlock()
	return bs.certificateFirstLocked()
}

func (bs *BlockStore) NextCertificate() block.Number {
	bs.stateMu.RLock()
	defer bs.stateMu.RUnlock()
	return bs.nextCertificateLocked()
}

// LastPayload returns the highest persisted payload, if any
func (bs *BlockStore) LastPayload() (block.Number, bool) {
	bs.stateMu.RLock()
	defer bs.stateMu.RUnlock()
	if bs.nextPayload == bs.first {
		return 0, false
	}
	return bs.nextPayload - 1, true
}

// LastCertificate returns the highest contiguous certificate, if any
func (bs *BlockStore) LastCertificate() (block.Number, bool) {
	bs.stateMu.RLock()
	defer bs.stateMu.RUnlock()
	if !bs.hasCerts || bs.nextCert == 0 {
		return 0, false
	}
	return bs.nextCert - 1, true
}

func (bs *BlockStore) Status() Status {
	bs.stateMu.RLock()
	defer bs.stateMu.RUnlock()

	s := Status{
		First:            bs.first,
		NextPayload:      bs.nextPayload,
		NextCertificate:  bs.nextCertificateLocked(),
		CertificateFirst: bs.certificateFirstLocked(),
	}
	if bs.nextPayload > bs.first {
		last := bs.nextPayload - 1
		s.LastPayload = &last
	}
	if bs.hasCerts && bs.nextCert > 0 {
		last := bs.nextCert - 1
		s.LastCertificate = &last
	}
	return s
}

// Genesis returns a copy of the adopted genesis, or nil
func (bs *BlockStore) Genesis() *genesis.Genesis {
	bs.stateMu.RLock()
	defer bs.stateMu.RUnlock()
	return bs.genesis.Clone()
}

// Payload returns the persisted payload for n, or nil when absent
func (bs *BlockStore) Payload(n block.Number) (*block.Payload, error) {
	return bs.st.Payload(n)
}

// Payloads returns persisted payloads in [from, to], stopping at the first gap
func (bs *BlockStore) Payloads(from, to block.Number) ([]*block.Payload, error) {
	return bs.st.Payloads(from, to)
}

// Certificate returns the persisted certificate for n, or nil when absent
func (bs *BlockStore) Certificate(n block.Number) (*consensus.Cert, error) {
	return bs.st.Certificate(n)
}

// QueuePayload persists p, which must be the next payload. Re-inserting an
// identical payload is a no-op; different content fails with ErrContentMismatch.
func (bs *BlockStore) QueuePayload(p *block.Payload) error {
	bs.writeMu.Lock()
	defer bs.writeMu.Unlock()

	first, next := bs.First(), bs.NextPayload()
	switch {
	case p.Number < first:
		return fmt.Errorf("%w: payload %d precedes first block %d", errors.ErrOutOfOrder, p.Number, first)
	case p.Number < next:
		existing, err := bs.st.Payload(p.Number)
		if err != nil {
			return fmt.Errorf("%w: read payload %d: %v", errors.ErrUnavailable, p.Number, err)
		}
		if existing == nil || !existing.Equal(p) {
			return fmt.Errorf("%w: payload %d differs from the persisted one", errors.ErrContentMismatch, p.Number)
		}
		return nil
	case p.Number > next:
		return fmt.Errorf("%w: payload %d, expected %d", errors.ErrOutOfOrder, p.Number, next)
	}

	if err := bs.st.PutPayload(p); err != nil {
		return fmt.Errorf("%w: persist payload %d: %v", errors.ErrUnavailable, p.Number, err)
	}

	bs.stateMu.Lock()
	bs.nextPayload = p.Number.Next()
	bs.notify()
	bs.stateMu.Unlock()

	logx.Debug("BLOCKSTORE", "Persisted payload ", p.Number)
	bs.publish(events.NewPayloadPersisted(p.Number, p.Hash()))
	return nil
}

// StoreCertificate persists c, which must be the next certificate and must bind
// the payload already persisted for its number. A certificate for an already
// certified block is a no-op when it binds the same payload hash.
func (bs *BlockStore) StoreCertificate(c *consensus.Cert) error {
	bs.writeMu.Lock()
	defer bs.writeMu.Unlock()

	bs.stateMu.RLock()
	g := bs.genesis
	certFirst := bs.certificateFirstLocked()
	next := bs.nextCertificateLocked()
	nextPayload := bs.nextPayload
	bs.stateMu.RUnlock()

	if g == nil {
		return fmt.Errorf("%w: cannot store certificate %d", errors.ErrNoGenesis, c.Number)
	}
	if c.ChainID != g.ChainID {
		return fmt.Errorf("%w: certificate %d is for chain %d, store holds chain %d",
			errors.ErrContentMismatch, c.Number, c.ChainID, g.ChainID)
	}

	switch {
	case c.Number < certFirst:
		return fmt.Errorf("%w: certificate %d precedes certificate window start %d", errors.ErrOutOfOrder, c.Number, certFirst)
	case c.Number < next:
		existing, err := bs.st.Certificate(c.Number)
		if err != nil {
			return fmt.Errorf("%w: read certificate %d: %v", errors.ErrUnavailable, c.Number, err)
		}
		if existing == nil || existing.PayloadHash != c.PayloadHash {
			return fmt.Errorf("%w: certificate %d differs from the persisted one", errors.ErrContentMismatch, c.Number)
		}
		return nil
	case c.Number > next:
		return fmt.Errorf("%w: certificate %d, expected %d", errors.ErrOutOfOrder, c.Number, next)
	case c.Number >= nextPayload:
		return fmt.Errorf("%w: certificate %d arrived before its payload", errors.ErrOutOfOrder, c.Number)
	}

	payload, err := bs.st.Payload(c.Number)
	if err != nil {
		return fmt.Errorf("%w: read payload %d: %v", errors.ErrUnavailable, c.Number, err)
	}
	if payload == nil {
		return fmt.Errorf("%w: payload %d missing", errors.ErrOutOfOrder, c.Number)
	}
	if payload.Hash() != c.PayloadHash {
		return fmt.Errorf("%w: certificate %d certifies %s, persisted payload hashes to %s",
			errors.ErrContentMismatch, c.Number, c.PayloadHash, payload.Hash())
	}

	if err := bs.st.PutCertificate(c); err != nil {
		return fmt.Errorf("%w: persist certificate %d: %v", errors.ErrUnavailable, c.Number, err)
	}

	bs.stateMu.Lock()
	bs.nextCert = c.Number.Next()
	bs.hasCerts = true
	bs.notify()
	bs.stateMu.Unlock()

	logx.Debug("BLOCKSTORE", "Persisted certificate ", c.Number)
	bs.publish(events.NewCertificatePersisted(c.Number))
	return nil
}

// QueueBlock persists a payload and, when given, its certificate
func (bs *BlockStore) QueueBlock(p *block.Payload, c *consensus.Cert) error {
	if err := bs.QueuePayload(p); err != nil {
		return err
	}
	if c == nil {
		return nil
	}
	return bs.StoreCertificate(c)
}

// UpdateGenesis implements genesis.Store. fn sees a copy of the current genesis;
// a nil result leaves the store unchanged.
func (bs *BlockStore) UpdateGenesis(fn func(current *genesis.Genesis) (*genesis.Genesis, error)) error {
	bs.writeMu.Lock()
	defer bs.writeMu.Unlock()

	next, err := fn(bs.Genesis())
	if err != nil || next == nil {
		return err
	}
	if err := bs.st.PutGenesis(next); err != nil {
		return fmt.Errorf("%w: persist genesis: %v", errors.ErrUnavailable, err)
	}

	bs.stateMu.Lock()
	bs.genesis = next.Clone()
	bs.notify()
	bs.stateMu.Unlock()

	bs.publish(events.NewGenesisUpdated(next.FirstBlock, next.ChainID, next.Fork))
	return nil
}

func (bs *BlockStore) wait(ctx context.Context, reached func() bool) error {
	for {
		bs.stateMu.RLock()
		ok := reached()
		ch := bs.advanced
		bs.stateMu.RUnlock()
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Cancelled(ctx.Err())
		case <-ch:
		}
	}
}

// WaitUntilPayloadPersisted blocks until the payload for n is persisted
func (bs *BlockStore) WaitUntilPayloadPersisted(ctx context.Context, n block.Number) error {
	return bs.wait(ctx, func() bool { return bs.nextPayload > n })
}

// WaitUntilCertificatePersisted blocks until the certificate cursor passes n.
// Blocks below the certificate window never get certificates and count as reached.
func (bs *BlockStore) WaitUntilCertificatePersisted(ctx context.Context, n block.Number) error {
	return bs.wait(ctx, func() bool { return bs.nextCertificateLocked() > n })
}
