package p2p

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/herumi/bls-eth-go-binary/bls"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/mezonai/certsync/block"
	"github.com/mezonai/certsync/blockstore"
	"github.com/mezonai/certsync/consensus"
	"github.com/mezonai/certsync/db"
	"github.com/mezonai/certsync/errors"
	"github.com/mezonai/certsync/fetcher"
	"github.com/mezonai/certsync/genesis"
	"github.com/mezonai/certsync/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testChain = 11

var loopback = []string{"/ip4/127.0.0.1/tcp/0"}

type chain struct {
	bs  *blockstore.BlockStore
	key *bls.SecretKey
	gen *genesis.Genesis
}

func newStore(t *testing.T) *blockstore.BlockStore {
	t.Helper()
	st, err := store.NewGenericSyncStore(db.NewMemLevelDBProvider())
	require.NoError(t, err)
	require.NoError(t, st.InitFirst(0))
	bs, err := blockstore.New(st, nil)
	require.NoError(t, err)
	return bs
}

func newChain(t *testing.T, blocks int) *chain {
	t.Helper()
	c := &chain{bs: newStore(t), key: consensus.GenerateKey()}
	c.gen = &genesis.Genesis{ChainID: testChain, Validators: []string{consensus.PublicKeyHex(c.key)}}
	_, err := genesis.TryUpdate(context.Background(), c.bs, c.gen)
	require.NoError(t, err)
	for i := 0; i < blocks; i++ {
		c.extend(t)
	}
	return c
}

func (c *chain) next() error {
	n := c.bs.NextPayload()
	p := block.NewPayload(n, []byte{byte(n), 0x77})
	v := consensus.NewVote(testChain, n, p.Hash())
	v.Sign(c.key)
	cert, err := consensus.AggregateVotes([]*consensus.Vote{v})
	if err != nil {
		return err
	}
	return c.bs.QueueBlock(p, cert)
}

func (c *chain) extend(t *testing.T) {
	require.NoError(t, c.next())
}

func newNetwork(t *testing.T, bs *blockstore.BlockStore, bootstrap ...string) *Network {
	t.Helper()
	n, err := NewNetwork(Config{ListenAddrs: loopback, BootstrapPeers: bootstrap}, bs, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })
	return n
}

func connect(t *testing.T, from, to *Network) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, from.Connect(ctx, to.AddrInfo()))
}

func onlyPeer(t *testing.T, n *Network) fetcher.Peer {
	t.Helper()
	peers := n.Peers()
	require.Len(t, peers, 1)
	return peers[0]
}

func TestSyncStream_ServesStore(t *testing.T) {
	src := newChain(t, 3)
	a := newNetwork(t, src.bs)
	b := newNetwork(t, newStore(t))
	connect(t, b, a)

	p := onlyPeer(t, b)
	assert.Equal(t, a.ID().String(), p.ID())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	payload, err := p.FetchPayload(ctx, 2)
	require.NoError(t, err)
	want, err := src.bs.Payload(2)
	require.NoError(t, err)
	assert.True(t, want.Equal(payload))

	cert, err := p.FetchCertificate(ctx, 1)
	require.NoError(t, err)
	stored, err := src.bs.Certificate(1)
	require.NoError(t, err)
	assert.True(t, stored.Equal(cert))

	g, err := p.FetchGenesis(ctx)
	require.NoError(t, err)
	assert.Equal(t, genesis.Identical, src.gen.Compare(g))

	_, err = p.FetchPayload(ctx, 9)
	assert.ErrorIs(t, err, errors.ErrNotYetAvailable)
	_, err = p.FetchCertificate(ctx, 9)
	assert.ErrorIs(t, err, errors.ErrNotYetAvailable)
}

func TestSyncStream_NoGenesisAndClosedPeer(t *testing.T) {
	a := newNetwork(t, newStore(t))
	b := newNetwork(t, newStore(t))
	connect(t, b, a)
	p := onlyPeer(t, b)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := p.FetchGenesis(ctx)
	assert.ErrorIs(t, err, errors.ErrNotYetAvailable)

	require.NoError(t, a.Close())
	_, err = p.FetchPayload(ctx, 0)
	assert.ErrorIs(t, err, errors.ErrUnavailable)
}

func TestSyncStream_RateLimited(t *testing.T) {
	src := newChain(t, 1)
	a, err := NewNetwork(Config{ListenAddrs: loopback, RequestsPerMinute: 1}, src.bs, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	b := newNetwork(t, newStore(t))
	connect(t, b, a)
	p := onlyPeer(t, b)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err = p.FetchPayload(ctx, 0)
	require.NoError(t, err)
	_, err = p.FetchPayload(ctx, 0)
	assert.ErrorIs(t, err, errors.ErrUnavailable)
}

func TestPeers_ExcludeBootstrap(t *testing.T) {
	boot := newNetwork(t, newStore(t))
	c := newNetwork(t, newStore(t), boot.FullAddrs()[0])
	assert.Empty(t, c.Peers())

	other := newNetwork(t, newStore(t))
	connect(t, c, other)
	assert.Equal(t, other.ID().String(), onlyPeer(t, c).ID())
}

func TestNewNetwork_UnreachableBootstrap(t *testing.T) {
	gone := newNetwork(t, newStore(t))
	addr := gone.FullAddrs()[0]
	require.NoError(t, gone.Close())

	_, err := NewNetwork(Config{ListenAddrs: loopback, BootstrapPeers: []string{addr}}, newStore(t), nil)
	assert.Error(t, err)
}

func TestPeerVerifiedFetcher_OverLibp2p(t *testing.T) {
	src := newChain(t, 6)
	a := newNetwork(t, src.bs)
	dst := newStore(t)
	b := newNetwork(t, dst)
	connect(t, b, a)

	cfg := fetcher.Config{Kind: fetcher.KindP2P, RetryDelay: 10 * time.Millisecond, MaxRetryDelay: 100 * time.Millisecond}
	f, err := fetcher.New(cfg, dst, b)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer waitCancel()
	require.NoError(t, dst.WaitUntilCertificatePersisted(waitCtx, 5))
	cancel()
	require.NoError(t, <-done)

	for n := block.Number(0); n <= 5; n++ {
		want, err := src.bs.Payload(n)
		require.NoError(t, err)
		got, err := dst.Payload(n)
		require.NoError(t, err)
		assert.True(t, want.Equal(got), "payload %d", n)
	}
}

func runNetwork(t *testing.T, n *Network) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
}

func TestGossip_CertAnnouncementsAndVotes(t *testing.T) {
	src := newChain(t, 1)
	a := newNetwork(t, src.bs)
	b := newNetwork(t, newStore(t))
	connect(t, b, a)

	var votes atomic.Int32
	a.SetVoteHandler(func(v *consensus.Vote) error {
		if v.Number == 42 {
			votes.Add(1)
		}
		return nil
	})

	runNetwork(t, a)
	runNetwork(t, b)

	assert.Eventually(t, func() bool {
		_ = src.next()
		_, ok := b.HighestKnown()
		return ok
	}, 15*time.Second, 200*time.Millisecond)
	highest, _ := b.HighestKnown()
	assert.Less(t, uint64(highest), uint64(src.bs.NextCertificate()))

	vote := consensus.NewVote(testChain, 42, block.Hash{1})
	vote.Sign(consensus.GenerateKey())
	assert.Eventually(t, func() bool {
		_ = b.BroadcastVote(context.Background(), vote)
		return votes.Load() > 0
	}, 15*time.Second, 200*time.Millisecond)
}

func TestIdentity_RoundTrip(t *testing.T) {
	priv, err := GenerateIdentity()
	require.NoError(t, err)
	enc, err := EncodeIdentity(priv)
	require.NoError(t, err)
	dec, err := DecodeIdentity(enc + "\n")
	require.NoError(t, err)
	assert.True(t, priv.Equals(dec))

	id1, err := PeerIDOf(priv)
	require.NoError(t, err)
	id2, err := PeerIDOf(dec)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	_, err = DecodeIdentity("0OIl")
	assert.Error(t, err)
}

func TestRateLimitManager_PerPeer(t *testing.T) {
	rlm := NewRateLimitManager(2)
	a, b := peer.ID("peer-a"), peer.ID("peer-b")

	assert.True(t, rlm.Allow(a))
	assert.True(t, rlm.Allow(a))
	assert.False(t, rlm.Allow(a), "burst of one minute's allowance is spent")
	assert.True(t, rlm.Allow(b), "peers have separate limiters")

	rlm.Forget(a)
	assert.True(t, rlm.Allow(a), "a forgotten peer starts with a full burst")
}

func TestBootNode_IsNotAFetchPeer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	boot, err := NewBootNode(ctx, BootNodeConfig{ListenAddrs: loopback})
	require.NoError(t, err)
	defer boot.Close()

	n := newNetwork(t, newStore(t), boot.FullAddrs()[0])
	assert.Empty(t, n.Peers())
	assert.Equal(t, 1, n.PeerCount())
}
