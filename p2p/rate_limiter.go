package p2p

import (
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"
	"golang.org/x/time/rate"
)

// RateLimitManager keeps one limiter per remote peer for sync stream requests.
// Each peer may burst up to a minute's allowance and refills continuously.
type RateLimitManager struct {
	perMinute int
	mu        sync.Mutex
	limiters  map[peer.ID]*rate.Limiter
}

func NewRateLimitManager(requestsPerMinute int) *RateLimitManager {
	if requestsPerMinute <= 0 {
		requestsPerMinute = DefaultRequestsPerMinute
	}
	return &RateLimitManager{
		perMinute: requestsPerMinute,
		limiters:  make(map[peer.ID]*rate.Limiter),
	}
}

func (rlm *RateLimitManager) limiter(peerID peer.ID) *rate.Limiter {
	rlm.mu.Lock()
	defer rlm.mu.Unlock()
	l, ok := rlm.limiters[peerID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(float64(rlm.perMinute)/60.0), rlm.perMinute)
		rlm.limiters[peerID] = l
	}
	return l
}

func (rlm *RateLimitManager) Allow(peerID peer.ID) bool {
	return rlm.limiter(peerID).Allow()
}

// Forget drops the limiter of a disconnected peer
func (rlm *RateLimitManager) Forget(peerID peer.ID) {
	rlm.mu.Lock()
	defer rlm.mu.Unlock()
	delete(rlm.limiters, peerID)
}
