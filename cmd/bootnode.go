package cmd

import (
	"fmt"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/mezonai/certsync/logx"
	"github.com/mezonai/certsync/p2p"
	"github.com/spf13/cobra"
)

var (
	bootIdentityPath string
	bootListenAddr   string
	bootDataStore    string
)

var bootnodeCmd = &cobra.Command{
	Use:   "bootnode",
	Short: "Run a DHT rendezvous node for peer discovery",
	RunE: func(cmd *cobra.Command, args []string) error {
		var priv crypto.PrivKey
		if bootIdentityPath != "" {
			var err error
			if priv, err = p2p.LoadIdentity(bootIdentityPath); err != nil {
				return err
			}
			logx.Info("BOOTNODE", "Loaded identity from: ", bootIdentityPath)
		}

		ctx := cmd.Context()
		boot, err := p2p.NewBootNode(ctx, p2p.BootNodeConfig{
			ListenAddrs:  []string{bootListenAddr},
			Identity:     priv,
			DHTDataStore: bootDataStore,
		})
		if err != nil {
			return err
		}
		for _, addr := range boot.FullAddrs() {
			fmt.Println(addr)
		}
		return boot.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(bootnodeCmd)
	bootnodeCmd.Flags().StringVar(&bootIdentityPath, "identity", "", "Base58 identity key file (random when empty)")
	bootnodeCmd.Flags().StringVar(&bootListenAddr, "listen", "/ip4/0.0.0.0/tcp/9000", "Listen multiaddress")
	bootnodeCmd.Flags().StringVar(&bootDataStore, "datastore", "", "Badger directory persisting the DHT routing records")
}
