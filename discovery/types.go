package discovery

import (
	badger "github.com/ipfs/go-ds-badger"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/pkg/errors"
)

const ProtocolPrefix = "/certsync"

type DHTConfig struct {
	BootNodes       []string
	DataStoreFile   string
	DiscConcurrency int
}

func (opt DHTConfig) GetLibp2pRawOptions() ([]dht.Option, error) {
	// a private prefix keeps sync nodes out of the public IPFS DHT
	opts := []dht.Option{dht.ProtocolPrefix(ProtocolPrefix)}

	// an empty list also replaces the public IPFS default bootstrappers
	bootOption, err := getBootstrapOption(opt.BootNodes)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to get bootstrap option")
	}
	opts = append(opts, bootOption)

	if opt.DataStoreFile != "" {
		dsOption, err := getDataStoreOption(opt.DataStoreFile)
		if err != nil {
			return nil, errors.WithMessage(err, "failed to get data store option")
		}
		opts = append(opts, dsOption)
	}

	// <= 0 keeps the dht default (alpha in the kademlia paper)
	if opt.DiscConcurrency > 0 {
		opts = append(opts, dht.Concurrency(opt.DiscConcurrency))
	}
	return opts, nil
}

func getBootstrapOption(bootNodes []string) (dht.Option, error) {
	resolved, err := ResolveAndParseMultiAddrs(bootNodes)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse boot nodes")
	}
	return dht.BootstrapPeers(resolved...), nil
}

func getDataStoreOption(dataStoreFile string) (dht.Option, error) {
	ds, err := badger.NewDatastore(dataStoreFile, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open badger data store at %s", dataStoreFile)
	}
	return dht.Datastore(ds), nil
}
