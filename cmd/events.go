package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/mselser95/slot-auction/pkg/config"
	"github.com/mselser95/slot-auction/pkg/types"
	"github.com/mselser95/slot-auction/pkg/websocket"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var eventsCmd = &cobra.Command{
	Use:   "events <slot-id>",
	Short: "List a slot's journaled settlement events",
	Args:  cobra.ExactArgs(1),
	RunE:  runEvents,
}

//nolint:gochecknoglobals // Cobra boilerplate
var watchEventsCmd = &cobra.Command{
	Use:   "watch-events",
	Short: "Stream settlement events from a running server",
	Long: `Subscribes to the server's websocket event feed and prints events as they
commit. Reconnects with backoff when the connection drops.`,
	Args: cobra.NoArgs,
	RunE: runWatchEvents,
}

//nolint:gochecknoglobals // Cobra boilerplate
var balanceCmd = &cobra.Command{
	Use:   "balance <token> <account>",
	Short: "Show an account's payment token balance",
	Args:  cobra.ExactArgs(2),
	RunE:  runBalance,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.Flags().IntP("limit", "l", 0, "Return only the most recent N events")

	rootCmd.AddCommand(watchEventsCmd)
	watchEventsCmd.Flags().Uint64P("slot", "s", 0, "Only show events for this slot")
	watchEventsCmd.Flags().BoolP("json", "j", false, "Output raw JSON events")

	rootCmd.AddCommand(balanceCmd)
}

func runEvents(cmd *cobra.Command, args []string) error {
	slotID, err := parseSlotID(args[0])
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("limit")

	client, err := newAPIClient(cmd, false)
	if err != nil {
		return err
	}

	resp, err := client.Events(context.Background(), slotID, limit)
	if err != nil {
		return fmt.Errorf("list events: %w", err)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tKIND\tBID\tACCOUNT\tAMOUNT")
	for _, ev := range resp.Events {
		writeEventRow(w, ev)
	}
	return w.Flush()
}

func runWatchEvents(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := config.NewLogger(os.Getenv("LOG_LEVEL"))
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	target, err := feedURL(apiURL(cmd))
	if err != nil {
		return err
	}

	slotID, _ := cmd.Flags().GetUint64("slot")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	sub, err := websocket.NewSubscriber(&websocket.SubscriberConfig{
		URL:        target,
		SlotID:     slotID,
		FilterSlot: cmd.Flags().Changed("slot"),
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("create subscriber: %w", err)
	}
	defer func() {
		_ = sub.Close()
	}()

	err = sub.Start(ctx)
	if err != nil {
		return fmt.Errorf("connect to event feed: %w", err)
	}

	out := cmd.OutOrStdout()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if jsonOutput {
				err = printJSON(out, ev)
				if err != nil {
					return err
				}
				continue
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			writeEventRow(w, ev)
			_ = w.Flush()
		}
	}
}

func runBalance(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient(cmd, false)
	if err != nil {
		return err
	}

	resp, err := client.Balance(context.Background(), args[0], args[1])
	if err != nil {
		return fmt.Errorf("fetch balance: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", resp.Account, resp.Balance)
	return nil
}

func writeEventRow(w *tabwriter.Writer, ev *types.Event) {
	amount := "-"
	if ev.Amount != nil {
		amount = ev.Amount.String()
	}
	fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
		ev.OccurredAt.Format(time.RFC3339), ev.Kind, ev.BidID, ev.Account.Hex(), amount)
}
