package cmd

import (
	"context"
	"fmt"

	"github.com/mselser95/slot-auction/pkg/httpserver"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var bidCmd = &cobra.Command{
	Use:   "bid <slot-id>",
	Short: "Bid on a slot, escrowing payment tokens",
	Long: `Places a signed bid. The signer must have approved the engine to pull the
amount, and a standing bid must be beaten by at least 120% of its original
amount.

Example:
  slot-auction bid 1 --slot-token 0x...5489 --payment-token 0x...ad --amount 1200 --content ipfs://ad`,
	Args: cobra.ExactArgs(1),
	RunE: runBid,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(bidCmd)
	bidCmd.Flags().String("slot-token", "", "Slot token contract address")
	bidCmd.Flags().String("payment-token", "", "Payment token contract address")
	bidCmd.Flags().StringP("amount", "a", "", "Bid amount in payment token base units")
	bidCmd.Flags().StringP("content", "c", "", "Content URI to show in the slot")
	_ = bidCmd.MarkFlagRequired("slot-token")
	_ = bidCmd.MarkFlagRequired("payment-token")
	_ = bidCmd.MarkFlagRequired("amount")
}

func runBid(cmd *cobra.Command, args []string) error {
	slotID, err := parseSlotID(args[0])
	if err != nil {
		return err
	}

	slotToken, _ := cmd.Flags().GetString("slot-token")
	paymentToken, _ := cmd.Flags().GetString("payment-token")
	amount, _ := cmd.Flags().GetString("amount")
	content, _ := cmd.Flags().GetString("content")

	client, err := newAPIClient(cmd, true)
	if err != nil {
		return err
	}

	resp, err := client.Bid(context.Background(), httpserver.BidRequest{
		SlotID:       slotID,
		SlotToken:    slotToken,
		PaymentToken: paymentToken,
		Amount:       amount,
		ContentURI:   content,
	})
	if err != nil {
		return fmt.Errorf("place bid: %w", err)
	}

	return printJSON(cmd.OutOrStdout(), resp)
}
