package p2p

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/routing"
	"github.com/mezonai/certsync/block"
	"github.com/mezonai/certsync/blockstore"
	"github.com/mezonai/certsync/consensus"
	"github.com/mezonai/certsync/discovery"
	"github.com/mezonai/certsync/events"
	"github.com/mezonai/certsync/fetcher"
	"github.com/mezonai/certsync/logx"
	"github.com/mezonai/certsync/monitoring"
	"github.com/mezonai/certsync/scope"
	ma "github.com/multiformats/go-multiaddr"
)

var (
	_ fetcher.PeerSet           = (*Network)(nil)
	_ consensus.VoteBroadcaster = (*Network)(nil)
)

// Network is the libp2p side of a node: it serves the sync protocol from the
// local block store, exposes connected nodes as fetcher peers and gossips
// certificate heights and consensus votes.
type Network struct {
	host    host.Host
	pubsub  *pubsub.PubSub
	disc    discovery.Discovery
	bs      *blockstore.BlockStore
	bus     *events.EventBus
	limiter *RateLimitManager

	maxPeers int

	topicCerts *pubsub.Topic
	topicVotes *pubsub.Topic

	// bootstrap nodes only help with discovery and are never asked for blocks
	bootstrapMu      sync.RWMutex
	bootstrapPeerIDs map[peer.ID]struct{}

	voteMu sync.RWMutex
	onVote func(*consensus.Vote) error

	highestKnown atomic.Uint64
	hasHighest   atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
}

func NewNetwork(cfg Config, bs *blockstore.BlockStore, bus *events.EventBus) (*Network, error) {
	if cfg.Identity == nil {
		id, err := GenerateIdentity()
		if err != nil {
			return nil, err
		}
		cfg.Identity = id
	}
	if len(cfg.ListenAddrs) == 0 {
		cfg.ListenAddrs = []string{"/ip4/0.0.0.0/tcp/0"}
	}
	if cfg.MaxPeers <= 0 {
		cfg.MaxPeers = DefaultMaxPeers
	}

	ctx, cancel := context.WithCancel(context.Background())

	opts := []libp2p.Option{
		libp2p.Identity(cfg.Identity),
		libp2p.ListenAddrStrings(cfg.ListenAddrs...),
	}
	var ddht *dht.IpfsDHT
	if cfg.EnableDHT {
		opts = append(opts, libp2p.Routing(func(h host.Host) (routing.PeerRouting, error) {
			var err error
			ddht, err = discovery.NewDHT(ctx, h, discovery.DHTConfig{
				BootNodes:     cfg.BootstrapPeers,
				DataStoreFile: cfg.DHTDataStore,
			})
			return ddht, err
		}))
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}

	n := &Network{
		host:             h,
		bs:               bs,
		bus:              bus,
		limiter:          NewRateLimitManager(cfg.RequestsPerMinute),
		maxPeers:         cfg.MaxPeers,
		bootstrapPeerIDs: make(map[peer.ID]struct{}),
		ctx:              ctx,
		cancel:           cancel,
	}

	psOpts := []pubsub.Option{pubsub.WithMaxMessageSize(maxGossipSize)}
	if ddht != nil {
		n.disc = discovery.NewDHTDiscovery(h, ddht, AdvertiseName)
		if err := n.disc.Bootstrap(ctx); err != nil {
			n.Close()
			return nil, fmt.Errorf("failed to bootstrap DHT: %w", err)
		}
		psOpts = append(psOpts, pubsub.WithDiscovery(n.disc.Routing()))
	}

	n.pubsub, err = pubsub.NewGossipSub(ctx, h, psOpts...)
	if err != nil {
		n.Close()
		return nil, fmt.Errorf("failed to create pubsub: %w", err)
	}
	if n.topicCerts, err = n.pubsub.Join(TopicCerts); err != nil {
		n.Close()
		return nil, fmt.Errorf("join %s: %w", TopicCerts, err)
	}
	if n.topicVotes, err = n.pubsub.Join(TopicVotes); err != nil {
		n.Close()
		return nil, fmt.Errorf("join %s: %w", TopicVotes, err)
	}

	h.SetStreamHandler(SyncProtocol, n.handleSyncStream)
	h.Network().Notify(&network.NotifyBundle{
		DisconnectedF: func(_ network.Network, c network.Conn) {
			n.limiter.Forget(c.RemotePeer())
		},
	})

	if err := n.connectBootstrap(ctx, cfg.BootstrapPeers); err != nil {
		n.Close()
		return nil, err
	}

	logx.Info("NETWORK", fmt.Sprintf("Libp2p network started with ID: %s", h.ID().String()))
	for _, addr := range h.Addrs() {
		logx.Info("NETWORK", "Listening on: ", addr.String())
	}
	return n, nil
}

func (n *Network) connectBootstrap(ctx context.Context, bootstrapPeers []string) error {
	infos, err := discovery.ResolveAndParseMultiAddrs(bootstrapPeers)
	if err != nil {
		return fmt.Errorf("invalid bootstrap address: %w", err)
	}
	if len(infos) == 0 {
		return nil
	}

	connected := false
	for _, info := range infos {
		if err := n.host.Connect(ctx, info); err != nil {
			logx.Error("NETWORK:SETUP", "Failed to connect to bootstrap ", info.ID.String(), ": ", err)
			continue
		}
		n.bootstrapMu.Lock()
		n.bootstrapPeerIDs[info.ID] = struct{}{}
		n.bootstrapMu.Unlock()
		logx.Info("NETWORK:SETUP", "Connected to bootstrap peer: ", info.ID.String())
		connected = true
	}
	if !connected {
		return fmt.Errorf("failed to connect to any bootstrap peer")
	}
	return nil
}

func (n *Network) ID() peer.ID {
	return n.host.ID()
}

// AddrInfo describes how other hosts can dial this one
func (n *Network) AddrInfo() peer.AddrInfo {
	return peer.AddrInfo{ID: n.host.ID(), Addrs: n.host.Addrs()}
}

// FullAddrs returns the listen addresses with the /p2p/ component appended
func (n *Network) FullAddrs() []string {
	info := n.AddrInfo()
	mas, err := peer.AddrInfoToP2pAddrs(&info)
	if err != nil {
		return nil
	}
	return AddrStrings(mas)
}

func (n *Network) Connect(ctx context.Context, info peer.AddrInfo) error {
	return n.host.Connect(ctx, info)
}

func (n *Network) isBootstrap(id peer.ID) bool {
	n.bootstrapMu.RLock()
	defer n.bootstrapMu.RUnlock()
	_, ok := n.bootstrapPeerIDs[id]
	return ok
}

// Peers returns the connected nodes, bootstrap nodes excluded
func (n *Network) Peers() []fetcher.Peer {
	var out []fetcher.Peer
	for _, id := range n.host.Network().Peers() {
		if id == n.host.ID() || n.isBootstrap(id) {
			continue
		}
		out = append(out, &streamPeer{host: n.host, id: id})
	}
	return out
}

func (n *Network) PeerCount() int {
	return len(n.host.Network().Peers())
}

// HighestKnown is the highest certified block any peer has announced
func (n *Network) HighestKnown() (block.Number, bool) {
	return block.Number(n.highestKnown.Load()), n.hasHighest.Load()
}

func (n *Network) observeHeight(from peer.ID, num block.Number) {
	for {
		cur := n.highestKnown.Load()
		if n.hasHighest.Load() && uint64(num) <= cur {
			break
		}
		if n.highestKnown.CompareAndSwap(cur, uint64(num)) {
			n.hasHighest.Store(true)
			break
		}
	}
	if n.bus != nil {
		n.bus.Publish(events.NewPeerHeight(from.String(), num))
	}
}

// SetVoteHandler installs the sink for votes received over gossip
func (n *Network) SetVoteHandler(fn func(*consensus.Vote) error) {
	n.voteMu.Lock()
	defer n.voteMu.Unlock()
	n.onVote = fn
}

// Run serves gossip until ctx is cancelled. The sync stream handler is active
// from construction on.
func (n *Network) Run(ctx context.Context) error {
	certSub, err := n.topicCerts.Subscribe()
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", TopicCerts, err)
	}
	defer certSub.Cancel()
	voteSub, err := n.topicVotes.Subscribe()
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", TopicVotes, err)
	}
	defer voteSub.Cancel()

	return scope.Run(ctx, func(ctx context.Context, s *scope.Scope) error {
		s.Spawn("certs-topic", func(ctx context.Context) error { return n.handleCertTopic(ctx, certSub) })
		s.Spawn("votes-topic", func(ctx context.Context) error { return n.handleVoteTopic(ctx, voteSub) })
		s.Spawn("announce", n.announceCertificates)
		s.Spawn("discovery", n.discoverPeers)
		return nil
	})
}

// discoverPeers advertises the namespace and dials found nodes when a DHT is
// configured; otherwise it only reports the peer count
func (n *Network) discoverPeers(ctx context.Context) error {
	if n.disc != nil {
		if _, err := n.disc.Advertise(ctx); err != nil {
			logx.Warn("DISCOVERY", "Failed to advertise: ", err)
		}
	}

	ticker := time.NewTicker(discoveryInterval)
	defer ticker.Stop()
	for {
		if n.disc != nil {
			n.findPeers(ctx)
		}
		monitoring.SetPeerCount(n.PeerCount())

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (n *Network) findPeers(ctx context.Context) {
	candidates, err := n.disc.Candidates(ctx, n.maxPeers)
	if err != nil {
		logx.Error("DISCOVERY", "Failed to find peers: ", err)
		return
	}
	for _, p := range candidates {
		if n.PeerCount() >= n.maxPeers {
			return
		}
		if err := n.host.Connect(ctx, p); err != nil {
			logx.Debug("DISCOVERY", "Failed to connect to discovered peer: ", err)
		} else {
			logx.Info("DISCOVERY", "Connected to discovered peer: ", p.ID.String())
		}
	}
}

func (n *Network) Close() error {
	n.cancel()
	var err error
	if n.disc != nil {
		err = n.disc.Close()
	}
	if cerr := n.host.Close(); cerr != nil {
		err = cerr
	}
	return err
}

func AddrStrings(addrs []ma.Multiaddr) []string {
	out := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		out = append(out, addr.String())
	}
	return out
}
