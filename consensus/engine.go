package consensus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/herumi/bls-eth-go-binary/bls"
	"github.com/mezonai/certsync/block"
	"github.com/mezonai/certsync/errors"
	"github.com/mezonai/certsync/logx"
	"github.com/mezonai/certsync/monitoring"
)

// retainBlocks is how far behind the latest certified block votes are still kept
const retainBlocks = 16

// Engine produces and checks commit certificates. The sync layer treats it as a black box.
type Engine interface {
	// Certify blocks until a quorum certificate for (n, payloadHash) exists or ctx ends.
	Certify(ctx context.Context, n block.Number, payloadHash block.Hash) (*Cert, error)
	// Verify is for callers holding an engine. The fetcher and bootstrap have no
	// engine and call VerifyCert directly with the genesis chain id.
	Verify(cert *Cert, vs *ValidatorSet) bool
}

// VoteBroadcaster ships local votes to the other validators
type VoteBroadcaster interface {
	BroadcastVote(ctx context.Context, v *Vote) error
}

type pending struct {
	done chan struct{}
	cert *Cert
}

// LocalEngine signs with the node's own keys and aggregates once enough votes,
// local or received through AddVote, agree on a payload hash.
type LocalEngine struct {
	chainID     uint64
	vs          *ValidatorSet
	signers     []*bls.SecretKey
	collector   *Collector
	broadcaster VoteBroadcaster

	mu      sync.Mutex
	pending map[voteKey]*pending
}

// NewLocalEngine builds an engine for vs. Every signer must belong to vs.
func NewLocalEngine(chainID uint64, vs *ValidatorSet, signers []*bls.SecretKey, broadcaster VoteBroadcaster) (*LocalEngine, error) {
	for _, sk := range signers {
		if !vs.Contains(PublicKeyHex(sk)) {
			return nil, fmt.Errorf("signing key %s is not in the validator set", PublicKeyHex(sk))
		}
	}
	return &LocalEngine{
		chainID:     chainID,
		vs:          vs,
		signers:     signers,
		collector:   NewCollector(chainID, vs),
		broadcaster: broadcaster,
		pending:     make(map[voteKey]*pending),
	}, nil
}

func (e *LocalEngine) entry(key voteKey) *pending {
	p, ok := e.pending[key]
	if !ok {
		p = &pending{done: make(chan struct{})}
		e.pending[key] = p
	}
	return p
}

// AddVote accepts a vote from the network or from a local signer
func (e *LocalEngine) AddVote(v *Vote) error {
	reached, err := e.collector.AddVote(v)
	if err != nil || !reached {
		return err
	}

	key := voteKey{number: v.Number, hash: v.PayloadHash}
	e.mu.Lock()
	defer e.mu.Unlock()

	p := e.entry(key)
	if p.cert != nil {
		return nil
	}
	cert, err := AggregateVotes(e.collector.Votes(v.Number, v.PayloadHash))
	if err != nil {
		return err
	}
	p.cert = cert
	close(p.done)
	logx.Info("CONSENSUS", fmt.Sprintf("Quorum reached for block %d hash=%s signers=%d", v.Number, v.PayloadHash, len(cert.Signers)))
	return nil
}

func (e *LocalEngine) Certify(ctx context.Context, n block.Number, payloadHash block.Hash) (*Cert, error) {
	start := time.Now()
	key := voteKey{number: n, hash: payloadHash}

	e.mu.Lock()
	p := e.entry(key)
	e.mu.Unlock()

	for _, sk := range e.signers {
		vote := NewVote(e.chainID, n, payloadHash)
		vote.Sign(sk)
		if err := e.AddVote(vote); err != nil {
			return nil, fmt.Errorf("add local vote for block %d: %w", n, err)
		}
		if e.broadcaster != nil {
			if err := e.broadcaster.BroadcastVote(ctx, vote); err != nil {
				return nil, fmt.Errorf("%w: broadcast vote for block %d: %v", errors.ErrUnavailable, n, err)
			}
		}
	}

	select {
	case <-ctx.Done():
		return nil, errors.Cancelled(ctx.Err())
	case <-p.done:
	}

	monitoring.RecordCertifyDuration(time.Since(start))
	if n > retainBlocks {
		e.prune(n - retainBlocks)
	}
	return p.cert, nil
}

func (e *LocalEngine) prune(n block.Number) {
	e.collector.Prune(n)
	e.mu.Lock()
	defer e.mu.Unlock()
	for k := range e.pending {
		if k.number <= n {
			delete(e.pending, k)
		}
	}
}

func (e *LocalEngine) Verify(cert *Cert, vs *ValidatorSet) bool {
	return VerifyCert(cert, vs, e.chainID) == nil
}
