package cmd

import (
	"context"
	"fmt"

	"github.com/mezonai/certsync/bootstrap"
	"github.com/mezonai/certsync/config"
	"github.com/mezonai/certsync/genesis"
	"github.com/mezonai/certsync/logx"
	"github.com/mezonai/certsync/snapshot"
	"github.com/spf13/cobra"
)

var (
	initSnapshotPath string
	initGenesisPath  string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Bootstrap the node store from block zero or from a snapshot",
	Long: `Prepare an empty store so the node can run:
- without --snapshot the store starts at block 0 and adopts the configured genesis (if the file exists)
- with --snapshot the store starts right after the snapshot block, adopts its genesis and seeds its trailing blocks
Running init again with the same inputs is a no-op.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return initializeNode(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().StringVar(&initSnapshotPath, "snapshot", "", "Snapshot file to start from")
	initCmd.Flags().StringVar(&initGenesisPath, "genesis", "", "Genesis YAML (defaults to node.genesis from the config)")
}

func initializeNode(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if initSnapshotPath != "" {
		snap, err := snapshot.Read(initSnapshotPath)
		if err != nil {
			return fmt.Errorf("read snapshot: %w", err)
		}
		if err := bootstrap.FromSnapshot(ctx, st, snap); err != nil {
			return err
		}
		logx.Info("INIT", "Bootstrapped from snapshot ", initSnapshotPath)
		return nil
	}

	path := initGenesisPath
	if path == "" {
		path = cfg.Node.GenesisPath
	}
	var g *genesis.Genesis
	switch {
	case fileExists(path):
		if g, err = config.LoadGenesis(path); err != nil {
			return err
		}
	case initGenesisPath != "":
		return fmt.Errorf("genesis file %s not found", path)
	default:
		logx.Warn("INIT", "No genesis at ", path, ", it will be obtained from peers")
	}
	return bootstrap.FromGenesis(ctx, st, g)
}
