package consensus

import (
	"fmt"
	"sync"

	"github.com/mezonai/certsync/block"
	"github.com/mezonai/certsync/logx"
)

type voteKey struct {
	number block.Number
	hash   block.Hash
}

// Collector gathers verified votes per (number, payload hash) until a quorum signs.
type Collector struct {
	mu        sync.Mutex
	chainID   uint64
	vs        *ValidatorSet
	votes     map[voteKey]map[string]*Vote // (number, hash) → voter → Vote
	threshold int
	floor     block.Number // votes below floor are stale
}

func NewCollector(chainID uint64, vs *ValidatorSet) *Collector {
	logx.Info("CONSENSUS", fmt.Sprintf("validators=%d threshold=%d", vs.Size(), vs.Quorum()))
	return &Collector{
		chainID:   chainID,
		vs:        vs,
		votes:     make(map[voteKey]map[string]*Vote),
		threshold: vs.Quorum(),
	}
}

// AddVote records v and reports whether its (number, hash) pair has reached quorum.
// Re-adding a vote already held is not an error.
func (c *Collector) AddVote(v *Vote) (bool, error) {
	if err := v.Validate(); err != nil {
		return false, err
	}
	if v.ChainID != c.chainID {
		return false, fmt.Errorf("vote for chain %d, want %d", v.ChainID, c.chainID)
	}
	pub, ok := c.vs.PublicKey(v.PubKey)
	if !ok {
		return false, fmt.Errorf("vote from non-validator %s", v.PubKey)
	}
	if !v.VerifySignature(pub) {
		return false, fmt.Errorf("invalid vote signature from %s for block %d", v.PubKey, v.Number)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if v.Number < c.floor {
		return false, nil
	}
	key := voteKey{number: v.Number, hash: v.PayloadHash}
	byVoter, ok := c.votes[key]
	if !ok {
		byVoter = make(map[string]*Vote)
		c.votes[key] = byVoter
	}
	byVoter[v.PubKey] = v

	count := len(byVoter)
	logx.Debug("CONSENSUS", fmt.Sprintf("block=%d hash=%s votes=%d/%d", v.Number, v.PayloadHash, count, c.threshold))
	return count >= c.threshold, nil
}

// Votes returns the votes held for (n, hash) in validator-set order
func (c *Collector) Votes(n block.Number, hash block.Hash) []*Vote {
	c.mu.Lock()
	defer c.mu.Unlock()

	byVoter := c.votes[voteKey{number: n, hash: hash}]
	out := make([]*Vote, 0, len(byVoter))
	for _, k := range c.vs.keys {
		if v, ok := byVoter[k]; ok {
			out = append(out, v)
		}
	}
	return out
}

// Prune drops every vote at or below n and ignores later votes for those numbers
func (c *Collector) Prune(n block.Number) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k := range c.votes {
		if k.number <= n {
			delete(c.votes, k)
		}
	}
	if n.Next() > c.floor {
		c.floor = n.Next()
	}
}
