package cmd

import (
	"fmt"

	"github.com/mezonai/certsync/jsonrpc"
	"github.com/mezonai/certsync/jsonx"
	"github.com/spf13/cobra"
)

var statusRPC string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the cursors of a running node over JSON-RPC",
	RunE: func(cmd *cobra.Command, args []string) error {
		pc := jsonrpc.NewPeerClient(statusRPC)
		defer pc.Close()

		st, err := pc.FetchStatus(cmd.Context())
		if err != nil {
			return err
		}
		out, err := jsonx.MarshalIndent(st, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&statusRPC, "rpc", "http://127.0.0.1:8545", "JSON-RPC endpoint of the node")
}
