package cmd

import (
	"fmt"

	"github.com/mezonai/certsync/block"
	"github.com/mezonai/certsync/blockstore"
	"github.com/mezonai/certsync/snapshot"
	"github.com/spf13/cobra"
)

var (
	snapshotAt       uint64
	snapshotTrailing int
	snapshotDir      string
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Write a snapshot of the local store at a block",
	Long:  "Write a snapshot of the stopped node's store. A node initialized from it starts at the block after --at.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		bs, err := blockstore.New(st, nil)
		if err != nil {
			return err
		}
		f, err := snapshot.Take(bs, block.Number(snapshotAt), snapshotTrailing)
		if err != nil {
			return err
		}
		path, err := snapshot.Write(snapshotDir, f)
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(snapshotCmd)
	snapshotCmd.Flags().Uint64Var(&snapshotAt, "at", 0, "Last block covered by the snapshot")
	snapshotCmd.Flags().IntVar(&snapshotTrailing, "trailing", 0, "Number of blocks after --at to carry in the snapshot")
	snapshotCmd.Flags().StringVar(&snapshotDir, "out", snapshot.DefaultDirectory, "Snapshot output directory")
	_ = snapshotCmd.MarkFlagRequired("at")
}
