package fetcher

import (
	"context"
	"fmt"

	"github.com/mezonai/certsync/block"
	"github.com/mezonai/certsync/blockstore"
	"github.com/mezonai/certsync/errors"
	"github.com/mezonai/certsync/logx"
	"github.com/mezonai/certsync/monitoring"
	"github.com/sethvargo/go-retry"
)

const logCentral = "FETCHER:CENTRAL"

// TrustBased copies payloads from a single upstream without looking at certificates.
type TrustBased struct {
	cfg   Config
	bs    *blockstore.BlockStore
	peers PeerSet
}

func NewTrustBased(cfg Config, bs *blockstore.BlockStore, peers PeerSet) *TrustBased {
	return &TrustBased{cfg: cfg, bs: bs, peers: peers}
}

func (f *TrustBased) upstream() (Peer, error) {
	peers := f.peers.Peers()
	if len(peers) == 0 {
		return nil, fmt.Errorf("%w: no upstream configured", errors.ErrUnavailable)
	}
	return peers[0], nil
}

func (f *TrustBased) Run(ctx context.Context) error {
	logx.Info(logCentral, "Polling upstream from block ", f.bs.NextPayload())
	for {
		err := f.step(ctx)
		if errors.IsCancelled(err) || ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// step fetches and persists the next batch of payloads, retrying until it gets one
func (f *TrustBased) step(ctx context.Context) error {
	var batch []*block.Payload
	from := f.bs.NextPayload()

	err := retry.Do(ctx, f.cfg.backoff(), func(ctx context.Context) error {
		up, err := f.upstream()
		if err == nil {
			batch, err = f.fetch(ctx, up, from)
		}
		if err == nil && len(batch) == 0 {
			err = fmt.Errorf("%w: payload %d", errors.ErrNotYetAvailable, from)
		}
		if err == nil {
			return nil
		}
		if errors.IsCancelled(err) {
			return err
		}
		monitoring.RecordFetchRetry(string(KindCentralized))
		logx.Debug(logCentral, fmt.Sprintf("Fetch from %d: %v", from, err))
		return retry.RetryableError(err)
	})
	if err != nil {
		if ctx.Err() != nil {
			return errors.Cancelled(ctx.Err())
		}
		return err
	}

	for _, p := range batch {
		err := f.bs.QueuePayload(p)
		if errors.Is(err, errors.ErrOutOfOrder) {
			// another writer moved the cursor; resume from it
			return nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (f *TrustBased) fetch(ctx context.Context, up Peer, from block.Number) ([]*block.Payload, error) {
	if rp, ok := up.(RangePeer); ok && f.cfg.BatchSize > 1 {
		payloads, err := rp.FetchPayloads(ctx, from, from+block.Number(f.cfg.BatchSize-1))
		if err != nil {
			return nil, err
		}
		for i, p := range payloads {
			if p.Number != from+block.Number(i) {
				return nil, fmt.Errorf("%w: range reply out of sequence at %d", errors.ErrUnavailable, p.Number)
			}
		}
		return payloads, nil
	}

	p, err := up.FetchPayload(ctx, from)
	if err != nil {
		return nil, err
	}
	if p.Number != from {
		return nil, fmt.Errorf("%w: asked for payload %d, got %d", errors.ErrUnavailable, from, p.Number)
	}
	return []*block.Payload{p}, nil
}
