package cmd

import (
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a signing key for the client commands",
	Long: `Generates a secp256k1 key and prints it with its address. Put the key in
PRIVATE_KEY to sign API requests, or in ENGINE_PRIVATE_KEY to run the engine
against chain tokens.`,
	Args: cobra.NoArgs,
	RunE: runKeygen,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(keygenCmd)
}

func runKeygen(cmd *cobra.Command, args []string) error {
	key, err := crypto.GenerateKey()
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "PRIVATE_KEY=%s\n", hex.EncodeToString(crypto.FromECDSA(key)))
	fmt.Fprintf(out, "ADDRESS=%s\n", crypto.PubkeyToAddress(key.PublicKey).Hex())
	return nil
}
