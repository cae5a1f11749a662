package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mezonai/certsync/config"
	"github.com/mezonai/certsync/logx"
	"github.com/mezonai/certsync/store"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logFile    string
)

var rootCmd = &cobra.Command{
	Use:   "certsync",
	Short: "Block sync and certification node",
	Long:  "Command line interface for bootstrapping, running and snapshotting a certsync node.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if logFile != "" {
			logx.SetOutputFile(logFile)
		}
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config/node.ini", "Path to the node INI config")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write logs to this file instead of ./logs")
}

// Execute runs the CLI; SIGINT and SIGTERM cancel the command context
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		logx.Error("CMD", "Command execution failed: ", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logFile == "" && cfg.Node.LogFile != "" {
		logx.SetOutputFile(cfg.Node.LogFile)
	}
	return cfg, nil
}

func openStore(cfg *config.Config) (store.SyncStore, error) {
	if dir := cfg.Storage.Directory; dir != "" && cfg.Storage.Type != store.MemoryStoreType {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	st, err := store.CreateStore(&cfg.Storage)
	if err != nil {
		return nil, err
	}
	logx.Info("CMD", fmt.Sprintf("Opened %s store", cfg.Storage.Type))
	return st, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
