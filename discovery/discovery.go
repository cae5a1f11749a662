package discovery

import (
	"context"
	"time"

	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/discovery"
	libp2p_host "github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	libp2p_peer "github.com/libp2p/go-libp2p/core/peer"
	libp2p_dis "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	"github.com/mezonai/certsync/logx"
)

// Discovery finds sync nodes that advertise one rendezvous namespace
type Discovery interface {
	Bootstrap(ctx context.Context) error
	Advertise(ctx context.Context) (time.Duration, error)
	// Candidates returns advertised peers this host is not yet connected to
	Candidates(ctx context.Context, limit int) ([]libp2p_peer.AddrInfo, error)
	// Routing is handed to pubsub.WithDiscovery
	Routing() discovery.Discovery
	Close() error
}

type dhtDiscovery struct {
	dht       *dht.IpfsDHT
	routing   discovery.Discovery
	host      libp2p_host.Host
	namespace string
}

// NewDHT starts a server-mode kad-dht on host using opt
func NewDHT(ctx context.Context, host libp2p_host.Host, opt DHTConfig) (*dht.IpfsDHT, error) {
	opts, err := opt.GetLibp2pRawOptions()
	if err != nil {
		return nil, err
	}
	opts = append(opts, dht.Mode(dht.ModeServer))
	return dht.New(ctx, host, opts...)
}

func NewDHTDiscovery(host libp2p_host.Host, ipfsDHT *dht.IpfsDHT, namespace string) Discovery {
	return &dhtDiscovery{
		dht:       ipfsDHT,
		routing:   libp2p_dis.NewRoutingDiscovery(ipfsDHT),
		host:      host,
		namespace: namespace,
	}
}

func (d *dhtDiscovery) Bootstrap(ctx context.Context) error {
	return d.dht.Bootstrap(ctx)
}

func (d *dhtDiscovery) Advertise(ctx context.Context) (time.Duration, error) {
	return d.routing.Advertise(ctx, d.namespace)
}

func (d *dhtDiscovery) Candidates(ctx context.Context, limit int) ([]libp2p_peer.AddrInfo, error) {
	found, err := d.routing.FindPeers(ctx, d.namespace, discovery.Limit(limit))
	if err != nil {
		return nil, err
	}
	var out []libp2p_peer.AddrInfo
	for info := range found {
		if info.ID == d.host.ID() || len(info.Addrs) == 0 {
			continue
		}
		if d.host.Network().Connectedness(info.ID) == network.Connected {
			continue
		}
		out = append(out, info)
	}
	return out, nil
}

func (d *dhtDiscovery) Routing() discovery.Discovery {
	return d.routing
}

func (d *dhtDiscovery) Close() error {
	err := d.dht.Close()
	if err != nil {
		logx.Error("DISCOVERY", "Failed to close dht: ", err)
	}
	return err
}
