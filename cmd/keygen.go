package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/herumi/bls-eth-go-binary/bls"
	"github.com/mezonai/certsync/consensus"
	"github.com/mezonai/certsync/p2p"
	"github.com/spf13/cobra"
)

var (
	keygenBLSOut      string
	keygenIdentityOut string
	keygenCount       int
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate BLS validator keys and a libp2p identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		if keygenBLSOut != "" {
			if err := writeBLSKeys(keygenBLSOut, keygenCount); err != nil {
				return err
			}
		}
		if keygenIdentityOut != "" {
			if err := writeIdentity(keygenIdentityOut); err != nil {
				return err
			}
		}
		if keygenBLSOut == "" && keygenIdentityOut == "" {
			return fmt.Errorf("nothing to do: set --bls-out and/or --identity-out")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
	keygenCmd.Flags().StringVar(&keygenBLSOut, "bls-out", "", "Write BLS secret keys (hex, one per line) to this file")
	keygenCmd.Flags().IntVar(&keygenCount, "count", 1, "Number of BLS keys to generate")
	keygenCmd.Flags().StringVar(&keygenIdentityOut, "identity-out", "", "Write a base58 libp2p identity key to this file")
}

func writeBLSKeys(path string, count int) error {
	if count <= 0 {
		return fmt.Errorf("--count must be positive")
	}
	keys := make([]*bls.SecretKey, count)
	lines := make([]string, count)
	for i := range keys {
		keys[i] = consensus.GenerateKey()
		lines[i] = keys[i].SerializeToHexStr()
	}
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600); err != nil {
		return fmt.Errorf("write BLS keys: %w", err)
	}
	fmt.Println("BLS public keys (add to genesis validators):")
	for _, sk := range keys {
		fmt.Println("  -", consensus.PublicKeyHex(sk))
	}
	return nil
}

func writeIdentity(path string) error {
	priv, err := p2p.GenerateIdentity()
	if err != nil {
		return err
	}
	enc, err := p2p.EncodeIdentity(priv)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(enc), 0o600); err != nil {
		return fmt.Errorf("write identity: %w", err)
	}
	id, err := p2p.PeerIDOf(priv)
	if err != nil {
		return err
	}
	fmt.Println("Peer ID:", id.String())
	return nil
}
