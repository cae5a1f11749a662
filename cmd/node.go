package cmd

import (
	"context"
	"fmt"

	"github.com/mezonai/certsync/blockstore"
	"github.com/mezonai/certsync/config"
	"github.com/mezonai/certsync/consensus"
	"github.com/mezonai/certsync/events"
	"github.com/mezonai/certsync/fetcher"
	"github.com/mezonai/certsync/genesis"
	"github.com/mezonai/certsync/jsonrpc"
	"github.com/mezonai/certsync/logx"
	"github.com/mezonai/certsync/monitoring"
	"github.com/mezonai/certsync/p2p"
	"github.com/mezonai/certsync/scope"
	"github.com/mezonai/certsync/validator"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the node roles enabled in the config",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runNode(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// node holds what the roles share for one run
type node struct {
	cfg *config.Config
	bs  *blockstore.BlockStore
	bus *events.EventBus
	net *p2p.Network
}

func runNode(ctx context.Context, cfg *config.Config) error {
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	n := &node{cfg: cfg, bus: events.NewEventBus()}
	if n.bs, err = blockstore.New(st, n.bus); err != nil {
		return err
	}

	if cfg.Metrics.Enabled {
		monitoring.InitMetrics()
		monitoring.SetFirstBlock(uint64(n.bs.First()))
	}

	if err := n.reconcileGenesis(ctx); err != nil {
		return err
	}

	if cfg.P2P.Enabled {
		netCfg, err := cfg.P2P.ToNetworkConfig()
		if err != nil {
			return err
		}
		if n.net, err = p2p.NewNetwork(netCfg, n.bs, n.bus); err != nil {
			return err
		}
		defer n.net.Close()
	}

	status := n.bs.Status()
	logx.Info("NODE", fmt.Sprintf("Starting at first=%d next_payload=%d next_certificate=%d",
		status.First, status.NextPayload, status.NextCertificate))

	return scope.Run(ctx, func(ctx context.Context, s *scope.Scope) error {
		if cfg.Metrics.Enabled {
			s.SpawnBg("metrics", func(ctx context.Context) error {
				return monitoring.Serve(ctx, cfg.Metrics.ListenAddr)
			})
			s.SpawnBg("metrics-events", func(ctx context.Context) error {
				monitoring.ReportEvents(ctx, n.bus)
				return nil
			})
		}
		if cfg.RPC.Enabled {
			srv := jsonrpc.NewServer(cfg.RPC.ListenAddr, n.bs)
			if cors, ok := jsonrpc.CORSFromEnv(); ok {
				srv.SetCORSConfig(cors)
			}
			if n.net != nil {
				srv.SetHeightSource(n.net)
			}
			s.Spawn("rpc", srv.Serve)
		}
		if n.net != nil {
			s.Spawn("p2p", n.net.Run)
		}
		if cfg.Validator.Enabled {
			v, err := n.newValidator()
			if err != nil {
				return err
			}
			s.Spawn("validator", v.Run)
		}
		if cfg.Fetcher.Enabled {
			f, err := n.newFetcher()
			if err != nil {
				return err
			}
			s.Spawn("fetcher", f.Run)
		}
		return nil
	})
}

// reconcileGenesis applies the configured genesis file, when present
func (n *node) reconcileGenesis(ctx context.Context) error {
	path := n.cfg.Node.GenesisPath
	if path == "" || !fileExists(path) {
		return nil
	}
	g, err := config.LoadGenesis(path)
	if err != nil {
		return err
	}
	outcome, err := genesis.TryUpdate(ctx, n.bs, g)
	if err != nil {
		return fmt.Errorf("configured genesis %s: %w", path, err)
	}
	logx.Info("NODE", "Configured genesis ", outcome)
	return nil
}

func (n *node) newValidator() (*validator.Validator, error) {
	g := n.bs.Genesis()
	if g == nil {
		return nil, fmt.Errorf("validator role needs a genesis, configure node.genesis")
	}
	vs, err := g.ValidatorSet()
	if err != nil {
		return nil, err
	}
	keys, err := config.LoadBLSKeys(n.cfg.Node.BLSKeyPath)
	if err != nil {
		return nil, err
	}

	var broadcaster consensus.VoteBroadcaster
	if n.net != nil {
		broadcaster = n.net
	}
	engine, err := consensus.NewLocalEngine(g.ChainID, vs, keys, broadcaster)
	if err != nil {
		return nil, err
	}
	if n.net != nil {
		n.net.SetVoteHandler(engine.AddVote)
	}
	logx.Info("NODE", fmt.Sprintf("Validator role with %d of %d keys, quorum %d", len(keys), vs.Size(), vs.Quorum()))
	return validator.New(n.bs, engine, n.cfg.Validator.ToValidatorConfig()), nil
}

func (n *node) newFetcher() (*fetcher.Fetcher, error) {
	var peers fetcher.PeerSet
	if len(n.cfg.Fetcher.Upstreams) > 0 {
		static := fetcher.NewStaticPeers()
		for _, url := range n.cfg.Fetcher.Upstreams {
			static.Add(jsonrpc.NewPeerClient(url))
		}
		peers = static
	} else if n.net != nil {
		peers = n.net
	} else {
		return nil, fmt.Errorf("fetcher has no peers: set fetcher.upstreams or enable p2p")
	}
	logx.Info("NODE", "Fetcher role: ", n.cfg.Fetcher.Kind)
	return fetcher.New(n.cfg.Fetcher.ToFetcherConfig(), n.bs, peers)
}
