package storage

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/mselser95/slot-auction/pkg/types"
	"go.uber.org/zap"
)

const rule = "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"

// ConsoleStorage pretty-prints events to the console and keeps them in
// memory so they can still be listed.
type ConsoleStorage struct {
	*MemoryStorage
	out    io.Writer
	logger *zap.Logger
}

// NewConsoleStorage creates a new console storage.
func NewConsoleStorage(logger *zap.Logger) *ConsoleStorage {
	logger.Info("console-storage-initialized")
	return &ConsoleStorage{
		MemoryStorage: NewMemoryStorage(logger),
		out:           os.Stdout,
		logger:        logger,
	}
}

// StoreEvent prints an event and records it.
func (c *ConsoleStorage) StoreEvent(ctx context.Context, ev *types.Event) error {
	fmt.Fprintln(c.out, "\n"+rule)
	switch ev.Kind {
	case types.EventBidAccepted:
		fmt.Fprintf(c.out, "🎯 BID ACCEPTED\n")
	case types.EventRefundIssued:
		fmt.Fprintf(c.out, "↩️  PREVIOUS BID REFUNDED\n")
	case types.EventPayoutApplied:
		fmt.Fprintf(c.out, "💰 PAYOUT APPLIED\n")
	default:
		fmt.Fprintf(c.out, "%s\n", ev.Kind)
	}
	fmt.Fprintln(c.out, rule)
	fmt.Fprintf(c.out, "Event:    %s (%s)\n", ev.Kind, shortID(ev.ID))
	fmt.Fprintf(c.out, "Slot:     %d\n", ev.SlotID)
	fmt.Fprintf(c.out, "Bid:      %d\n", ev.BidID)
	fmt.Fprintf(c.out, "Account:  %s\n", ev.Account.Hex())
	if ev.Caller != ev.Account {
		fmt.Fprintf(c.out, "Caller:   %s\n", ev.Caller.Hex())
	}
	if ev.Amount != nil {
		fmt.Fprintf(c.out, "Amount:   %s (token %s)\n", ev.Amount.String(), ev.PaymentToken.Hex())
	}
	if ev.ContentURI != "" {
		fmt.Fprintf(c.out, "Content:  %s\n", ev.ContentURI)
	}
	fmt.Fprintf(c.out, "Time:     %s\n", ev.OccurredAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintln(c.out, rule)

	return c.MemoryStorage.StoreEvent(ctx, ev)
}

// Close is a no-op for console storage.
func (c *ConsoleStorage) Close() error {
	c.logger.Info("closing-console-storage")
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
