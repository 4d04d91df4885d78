package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/mselser95/slot-auction/pkg/httpserver"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var highestBidCmd = &cobra.Command{
	Use:   "highest-bid <slot-id>",
	Short: "Show a slot's winning bid and remaining escrow",
	Args:  cobra.ExactArgs(1),
	RunE:  runHighestBid,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(highestBidCmd)
}

func runHighestBid(cmd *cobra.Command, args []string) error {
	slotID, err := parseSlotID(args[0])
	if err != nil {
		return err
	}

	client, err := newAPIClient(cmd, false)
	if err != nil {
		return err
	}

	bid, err := client.HighestBid(context.Background(), slotID)
	if err != nil {
		var apiErr *httpserver.APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			fmt.Fprintf(cmd.OutOrStdout(), "slot %d has no bid\n", slotID)
			return nil
		}
		return fmt.Errorf("fetch highest bid: %w", err)
	}

	return printJSON(cmd.OutOrStdout(), bid)
}
