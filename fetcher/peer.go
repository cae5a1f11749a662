package fetcher

import (
	"context"
	"sync"

	"github.com/mezonai/certsync/block"
	"github.com/mezonai/certsync/consensus"
	"github.com/mezonai/certsync/genesis"
)

// Peer is a remote node serving sync data. Errors match errors.ErrUnavailable for
// transport failures and errors.ErrNotYetAvailable when the peer lacks the item.
type Peer interface {
	ID() string
	FetchPayload(ctx context.Context, n block.Number) (*block.Payload, error)
	FetchCertificate(ctx context.Context, n block.Number) (*consensus.Cert, error)
	FetchGenesis(ctx context.Context) (*genesis.Genesis, error)
}

// RangePeer can return several consecutive payloads in one round trip.
// The result starts at from and may be shorter than requested.
type RangePeer interface {
	Peer
	FetchPayloads(ctx context.Context, from, to block.Number) ([]*block.Payload, error)
}

// PeerSet yields the peers currently usable by a fetcher
type PeerSet interface {
	Peers() []Peer
}

// StaticPeers is a fixed PeerSet, typically JSON-RPC clients from config
type StaticPeers struct {
	mu    sync.RWMutex
	peers []Peer
}

func NewStaticPeers(peers ...Peer) *StaticPeers {
	return &StaticPeers{peers: peers}
}

func (s *StaticPeers) Add(p Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers = append(s.peers, p)
}

func (s *StaticPeers) Peers() []Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Peer(nil), s.peers...)
}
