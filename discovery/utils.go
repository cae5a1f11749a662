package discovery

import (
	"context"
	"time"

	libp2p_peer "github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	madns "github.com/multiformats/go-multiaddr-dns"
)

const resolveTimeout = 10 * time.Second

// ResolveAndParseMultiAddrs turns /p2p/ multiaddrs (possibly /dns*) into AddrInfos,
// merging addresses that belong to the same peer
func ResolveAndParseMultiAddrs(addrStrings []string) ([]libp2p_peer.AddrInfo, error) {
	var mas []ma.Multiaddr
	for _, addrStr := range addrStrings {
		if addrStr == "" {
			continue
		}
		mAddr, err := ma.NewMultiaddr(addrStr)
		if err != nil {
			return nil, err
		}
		resolved, err := resolveMultiAddr(mAddr)
		if err != nil {
			return nil, err
		}
		mas = append(mas, resolved...)
	}
	if len(mas) == 0 {
		return nil, nil
	}
	return libp2p_peer.AddrInfosFromP2pAddrs(mas...)
}

func resolveMultiAddr(raw ma.Multiaddr) ([]ma.Multiaddr, error) {
	if !madns.Matches(raw) {
		return []ma.Multiaddr{raw}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
	defer cancel()
	return madns.Resolve(ctx, raw)
}
