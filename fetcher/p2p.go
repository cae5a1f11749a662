package fetcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/mezonai/certsync/block"
	"github.com/mezonai/certsync/blockstore"
	"github.com/mezonai/certsync/consensus"
	"github.com/mezonai/certsync/errors"
	"github.com/mezonai/certsync/genesis"
	"github.com/mezonai/certsync/logx"
	"github.com/mezonai/certsync/monitoring"
	"github.com/sethvargo/go-retry"
)

const logP2P = "FETCHER:P2P"

// PeerVerified replicates payloads and certificates from gossip peers. Every
// certificate is checked against the local genesis committee and bound to the
// payload hash before anything is written; a peer serving bad data is skipped.
type PeerVerified struct {
	cfg   Config
	bs    *blockstore.BlockStore
	peers PeerSet

	mu   sync.Mutex
	next int // rotation index into peers
}

func NewPeerVerified(cfg Config, bs *blockstore.BlockStore, peers PeerSet) *PeerVerified {
	return &PeerVerified{cfg: cfg, bs: bs, peers: peers}
}

func (f *PeerVerified) Run(ctx context.Context) error {
	err := f.run(ctx)
	if errors.IsCancelled(err) {
		return nil
	}
	return err
}

func (f *PeerVerified) run(ctx context.Context) error {
	if err := f.syncGenesis(ctx); err != nil {
		return err
	}
	g := f.bs.Genesis()
	vs, err := g.ValidatorSet()
	if err != nil {
		return fmt.Errorf("local genesis: %w", err)
	}

	// payloads that predate the genesis cannot carry certificates
	for n := f.bs.NextPayload(); n < f.bs.CertificateFirst(); n = f.bs.NextPayload() {
		if err := f.fetchUncertified(ctx, n); err != nil {
			return err
		}
	}

	n := f.bs.NextCertificate()
	logx.Info(logP2P, fmt.Sprintf("Following certified chain from block %d", n))
	for {
		if err := f.fetchCertified(ctx, g.ChainID, vs, n); err != nil {
			return err
		}
		n = n.Next()
		if next := f.bs.NextCertificate(); next > n {
			n = next
		}
	}
}

// rotation returns the peers starting after the last one used
func (f *PeerVerified) rotation() []Peer {
	peers := f.peers.Peers()
	monitoring.SetPeerCount(len(peers))
	if len(peers) == 0 {
		return nil
	}
	f.mu.Lock()
	start := f.next % len(peers)
	f.next++
	f.mu.Unlock()
	return append(peers[start:], peers[:start]...)
}

// attempt runs one pass over the peers with backoff between passes until fn succeeds
// on some peer or returns a fatal error.
func (f *PeerVerified) attempt(ctx context.Context, what string, fn func(ctx context.Context, p Peer) error) error {
	err := retry.Do(ctx, f.cfg.backoff(), func(ctx context.Context) error {
		peers := f.rotation()
		if len(peers) == 0 {
			monitoring.RecordFetchRetry(string(KindP2P))
			return retry.RetryableError(fmt.Errorf("%w: no peers", errors.ErrUnavailable))
		}
		var lastErr error
		for _, p := range peers {
			err := fn(ctx, p)
			if err == nil {
				return nil
			}
			if errors.IsCancelled(err) || !errors.IsRetryable(err) {
				return err
			}
			logx.Debug(logP2P, fmt.Sprintf("%s from %s: %v", what, p.ID(), err))
			lastErr = err
		}
		monitoring.RecordFetchRetry(string(KindP2P))
		return retry.RetryableError(lastErr)
	})
	if err != nil && ctx.Err() != nil {
		return errors.Cancelled(ctx.Err())
	}
	return err
}

func (f *PeerVerified) syncGenesis(ctx context.Context) error {
	return f.attempt(ctx, "genesis", func(ctx context.Context, p Peer) error {
		remote, err := p.FetchGenesis(ctx)
		if err != nil {
			return err
		}
		_, err = genesis.TryUpdate(ctx, f.bs, remote)
		if err != nil && !errors.IsCancelled(err) {
			logx.Error(logP2P, fmt.Sprintf("Genesis from %s rejected: %v", p.ID(), err))
		}
		return err
	})
}

func (f *PeerVerified) fetchUncertified(ctx context.Context, n block.Number) error {
	return f.attempt(ctx, fmt.Sprintf("payload %d", n), func(ctx context.Context, p Peer) error {
		payload, err := p.FetchPayload(ctx, n)
		if err != nil {
			return err
		}
		if payload.Number != n {
			return fmt.Errorf("%w: asked for payload %d, got %d", errors.ErrUnavailable, n, payload.Number)
		}
		return f.bs.QueuePayload(payload)
	})
}

func (f *PeerVerified) fetchCertified(ctx context.Context, chainID uint64, vs *consensus.ValidatorSet, n block.Number) error {
	return f.attempt(ctx, fmt.Sprintf("block %d", n), func(ctx context.Context, p Peer) error {
		cert, err := p.FetchCertificate(ctx, n)
		if err != nil {
			return err
		}
		if err := f.verify(p, chainID, vs, n, cert); err != nil {
			return err
		}

		local, err := f.bs.Payload(n)
		if err != nil {
			return fmt.Errorf("%w: read payload %d: %v", errors.ErrUnavailable, n, err)
		}
		if local != nil {
			// locally produced payload: only the certificate is missing
			if local.Hash() != cert.PayloadHash {
				monitoring.RecordVerificationFailure(p.ID())
				logx.Warn(logP2P, fmt.Sprintf("Peer %s served certificate %d for a different payload than the local one", p.ID(), n))
				return fmt.Errorf("%w: certificate %d does not match local payload", errors.ErrVerificationFailure, n)
			}
			return f.bs.StoreCertificate(cert)
		}

		payload, err := p.FetchPayload(ctx, n)
		if err != nil {
			return err
		}
		if payload.Number != n || payload.Hash() != cert.PayloadHash {
			monitoring.RecordVerificationFailure(p.ID())
			logx.Warn(logP2P, fmt.Sprintf("Peer %s served payload %d not matching its certificate", p.ID(), n))
			return fmt.Errorf("%w: payload %d does not match certificate", errors.ErrVerificationFailure, n)
		}
		return f.bs.QueueBlock(payload, cert)
	})
}

func (f *PeerVerified) verify(p Peer, chainID uint64, vs *consensus.ValidatorSet, n block.Number, cert *consensus.Cert) error {
	err := consensus.VerifyCert(cert, vs, chainID)
	if err == nil && cert.Number != n {
		err = fmt.Errorf("%w: asked for certificate %d, got %d", errors.ErrVerificationFailure, n, cert.Number)
	}
	if err != nil {
		monitoring.RecordVerificationFailure(p.ID())
		logx.Warn(logP2P, fmt.Sprintf("Rejected certificate %d from %s: %v", n, p.ID(), err))
	}
	return err
}
