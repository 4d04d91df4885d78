package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/mselser95/slot-auction/pkg/httpserver"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var payoutCmd = &cobra.Command{
	Use:   "payout <slot-id>",
	Short: "Draw an amount from a slot's escrow to the signer",
	Args:  cobra.ExactArgs(1),
	RunE:  runPayout,
}

//nolint:gochecknoglobals // Cobra boilerplate
var batchPayoutCmd = &cobra.Command{
	Use:   "batch-payout <slot-id>",
	Short: "Pay several recipients from a slot's escrow at once",
	Long: `Pays every recipient or none. Repeat --pay once per recipient.

Example:
  slot-auction batch-payout 1 --bid-id 2 --pay 0xabc...=1 --pay 0xdef...=2`,
	Args: cobra.ExactArgs(1),
	RunE: runBatchPayout,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(payoutCmd)
	payoutCmd.Flags().Uint64P("bid-id", "b", 0, "Winning bid ID")
	payoutCmd.Flags().StringP("amount", "a", "", "Amount to draw")
	_ = payoutCmd.MarkFlagRequired("bid-id")
	_ = payoutCmd.MarkFlagRequired("amount")

	rootCmd.AddCommand(batchPayoutCmd)
	batchPayoutCmd.Flags().Uint64P("bid-id", "b", 0, "Winning bid ID")
	batchPayoutCmd.Flags().StringArray("pay", nil, "recipient=amount, repeatable")
	_ = batchPayoutCmd.MarkFlagRequired("bid-id")
	_ = batchPayoutCmd.MarkFlagRequired("pay")
}

func runPayout(cmd *cobra.Command, args []string) error {
	slotID, err := parseSlotID(args[0])
	if err != nil {
		return err
	}

	bidID, _ := cmd.Flags().GetUint64("bid-id")
	amount, _ := cmd.Flags().GetString("amount")

	client, err := newAPIClient(cmd, true)
	if err != nil {
		return err
	}

	resp, err := client.Payout(context.Background(), httpserver.PayoutRequest{
		SlotID: slotID,
		BidID:  bidID,
		Amount: amount,
	})
	if err != nil {
		return fmt.Errorf("payout: %w", err)
	}

	return printJSON(cmd.OutOrStdout(), resp)
}

func runBatchPayout(cmd *cobra.Command, args []string) error {
	slotID, err := parseSlotID(args[0])
	if err != nil {
		return err
	}

	bidID, _ := cmd.Flags().GetUint64("bid-id")
	pays, _ := cmd.Flags().GetStringArray("pay")

	recipients, amounts, err := parsePayments(pays)
	if err != nil {
		return err
	}

	client, err := newAPIClient(cmd, true)
	if err != nil {
		return err
	}

	resp, err := client.BatchPayout(context.Background(), httpserver.BatchPayoutRequest{
		SlotID:     slotID,
		BidID:      bidID,
		Amounts:    amounts,
		Recipients: recipients,
	})
	if err != nil {
		return fmt.Errorf("batch payout: %w", err)
	}

	return printJSON(cmd.OutOrStdout(), resp)
}

// parsePayments splits recipient=amount pairs, keeping their order.
func parsePayments(pays []string) (recipients []string, amounts []string, err error) {
	for _, p := range pays {
		recipient, amount, ok := strings.Cut(p, "=")
		if !ok || recipient == "" || amount == "" {
			return nil, nil, fmt.Errorf("invalid --pay %q, want recipient=amount", p)
		}
		recipients = append(recipients, recipient)
		amounts = append(amounts, amount)
	}
	return recipients, amounts, nil
}
