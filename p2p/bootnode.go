package p2p

import (
	"context"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/routing"
	"github.com/libp2p/go-libp2p/p2p/net/connmgr"
	"github.com/mezonai/certsync/discovery"
	"github.com/mezonai/certsync/logx"
)

type BootNodeConfig struct {
	ListenAddrs  []string
	Identity     crypto.PrivKey
	DHTDataStore string
	LowWater     int
	HighWater    int
}

// BootNode is a rendezvous host: a DHT server that never serves block data.
// Sync nodes list it in their bootstrap peers.
type BootNode struct {
	host host.Host
	dht  *dht.IpfsDHT
}

func NewBootNode(ctx context.Context, cfg BootNodeConfig) (*BootNode, error) {
	if cfg.LowWater <= 0 {
		cfg.LowWater = 80
	}
	if cfg.HighWater <= cfg.LowWater {
		cfg.HighWater = cfg.LowWater + 20
	}
	mgr, err := connmgr.NewConnManager(cfg.LowWater, cfg.HighWater, connmgr.WithGracePeriod(time.Minute))
	if err != nil {
		return nil, err
	}

	b := &BootNode{}
	opts := []libp2p.Option{
		libp2p.ConnectionManager(mgr),
		libp2p.Routing(func(h host.Host) (routing.PeerRouting, error) {
			b.dht, err = discovery.NewDHT(ctx, h, discovery.DHTConfig{DataStoreFile: cfg.DHTDataStore})
			return b.dht, err
		}),
	}
	if len(cfg.ListenAddrs) > 0 {
		opts = append(opts, libp2p.ListenAddrStrings(cfg.ListenAddrs...))
	}
	if cfg.Identity != nil {
		opts = append(opts, libp2p.Identity(cfg.Identity))
	}

	b.host, err = libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create boot node host: %w", err)
	}
	if err := b.dht.Bootstrap(ctx); err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("failed to bootstrap DHT: %w", err)
	}

	b.host.Network().Notify(&network.NotifyBundle{
		ConnectedF: func(_ network.Network, c network.Conn) {
			logx.Debug("BOOTNODE", "Peer connected: ", c.RemotePeer().String())
		},
		DisconnectedF: func(_ network.Network, c network.Conn) {
			logx.Debug("BOOTNODE", "Peer disconnected: ", c.RemotePeer().String())
		},
	})

	logx.Info("BOOTNODE", "Node ID: ", b.host.ID().String())
	for _, addr := range b.FullAddrs() {
		logx.Info("BOOTNODE", "Listening on: ", addr)
	}
	return b, nil
}

func (b *BootNode) FullAddrs() []string {
	info := peer.AddrInfo{ID: b.host.ID(), Addrs: b.host.Addrs()}
	mas, err := peer.AddrInfoToP2pAddrs(&info)
	if err != nil {
		return nil
	}
	return AddrStrings(mas)
}

// Run keeps the boot node up until ctx is cancelled
func (b *BootNode) Run(ctx context.Context) error {
	<-ctx.Done()
	return b.Close()
}

func (b *BootNode) Close() error {
	var err error
	if b.dht != nil {
		err = b.dht.Close()
	}
	if cerr := b.host.Close(); cerr != nil {
		err = cerr
	}
	return err
}
