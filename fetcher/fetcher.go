package fetcher

import (
	"context"
	"fmt"
	"time"

	"github.com/mezonai/certsync/blockstore"
	"github.com/sethvargo/go-retry"
)

// Kind selects how a node replicates chain state from remote nodes
type Kind string

const (
	// KindP2P verifies certificates from gossip peers before persisting
	KindP2P Kind = "p2p"
	// KindCentralized polls one trusted upstream for payloads only
	KindCentralized Kind = "centralized"
)

func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindP2P, KindCentralized:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown fetcher kind %q (want %s or %s)", s, KindP2P, KindCentralized)
	}
}

type Config struct {
	Kind          Kind
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	// BatchSize bounds payload range requests of the centralized fetcher
	BatchSize int
}

func DefaultConfig() Config {
	return Config{
		Kind:          KindP2P,
		RetryDelay:    100 * time.Millisecond,
		MaxRetryDelay: 5 * time.Second,
		BatchSize:     64,
	}
}

func (c Config) backoff() retry.Backoff {
	b := retry.NewExponential(c.RetryDelay)
	b = retry.WithCappedDuration(c.MaxRetryDelay, b)
	return retry.WithJitterPercent(10, b)
}

// Replicator pulls remote chain state into the local block store until ctx ends
type Replicator interface {
	Run(ctx context.Context) error
}

// Fetcher holds exactly one replicator, chosen once at construction
type Fetcher struct {
	kind       Kind
	replicator Replicator
}

func New(cfg Config, bs *blockstore.BlockStore, peers PeerSet) (*Fetcher, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	var r Replicator
	switch cfg.Kind {
	case KindP2P:
		r = NewPeerVerified(cfg, bs, peers)
	case KindCentralized:
		r = NewTrustBased(cfg, bs, peers)
	default:
		return nil, fmt.Errorf("unknown fetcher kind %q", cfg.Kind)
	}
	return &Fetcher{kind: cfg.Kind, replicator: r}, nil
}

func (f *Fetcher) Kind() Kind {
	return f.kind
}

// Run returns nil on cancellation and an error only for unrecoverable conditions
func (f *Fetcher) Run(ctx context.Context) error {
	return f.replicator.Run(ctx)
}
