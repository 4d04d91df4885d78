package cmd

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"os"
	"text/tabwriter"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mselser95/slot-auction/internal/app"
	"github.com/mselser95/slot-auction/internal/auction"
	"github.com/mselser95/slot-auction/internal/storage"
	"github.com/mselser95/slot-auction/pkg/config"
	"github.com/mselser95/slot-auction/pkg/types"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

//nolint:gochecknoglobals // Cobra boilerplate
var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run an auction and payout walkthrough in memory",
	Long: `Runs the engine against in-memory tokens:
1. Bidder A bids 1000 on slot 1
2. Bidder B outbids with 1200, refunding A in full
3. The slot owner draws 1 from B's escrow
4. The slot owner pays 1, 2 and 10 to three recipients in one batch

Prints every journaled event and the resulting balances.`,
	Args: cobra.NoArgs,
	RunE: runSimulate,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().BoolP("verbose", "v", false, "Log engine activity")
}

type simAccount struct {
	name    string
	address common.Address
}

//nolint:gochecknoglobals // fixed walkthrough accounts
var (
	simOwner   = simAccount{"owner", common.HexToAddress("0x0000000000000000000000000000000000000001")}
	simBidderA = simAccount{"bidder-a", common.HexToAddress("0x000000000000000000000000000000000000000a")}
	simBidderB = simAccount{"bidder-b", common.HexToAddress("0x000000000000000000000000000000000000000b")}
	simX       = simAccount{"recipient-x", common.HexToAddress("0x0000000000000000000000000000000000000011")}
	simY       = simAccount{"recipient-y", common.HexToAddress("0x0000000000000000000000000000000000000012")}
	simZ       = simAccount{"recipient-z", common.HexToAddress("0x0000000000000000000000000000000000000013")}
)

// simulation is the outcome of a walkthrough.
type simulation struct {
	Engine    common.Address
	SlotID    uint64
	Remaining *big.Int
	Content   string
	Events    []*types.Event
	Balances  []simBalance
}

type simBalance struct {
	Account simAccount
	Balance *big.Int
}

func runSimulate(cmd *cobra.Command, args []string) error {
	logger := zap.NewNop()
	verbose, _ := cmd.Flags().GetBool("verbose")
	if verbose {
		var err error
		logger, err = config.NewLogger(os.Getenv("LOG_LEVEL"))
		if err != nil {
			return fmt.Errorf("create logger: %w", err)
		}
		defer func() {
			_ = logger.Sync()
		}()
	}

	sim, err := simulate(context.Background(), logger)
	if err != nil {
		return err
	}

	return printSimulation(cmd.OutOrStdout(), sim)
}

func simulate(ctx context.Context, logger *zap.Logger) (*simulation, error) {
	engineAddr := common.HexToAddress(config.DefaultEngineAddress)
	market := app.NewMemoryMarket()
	payment, _ := market.MemoryPayment(app.MemoryPaymentToken)
	slots, _ := market.MemorySlot(app.MemorySlotToken)

	for _, bidder := range []simAccount{simBidderA, simBidderB} {
		err := payment.Mint(bidder.address, big.NewInt(5000))
		if err != nil {
			return nil, fmt.Errorf("fund %s: %w", bidder.name, err)
		}
		err = payment.Approve(bidder.address, engineAddr, big.NewInt(5000))
		if err != nil {
			return nil, fmt.Errorf("approve %s: %w", bidder.name, err)
		}
	}

	slotID, err := slots.Mint(simOwner.address, "ipfs://default")
	if err != nil {
		return nil, fmt.Errorf("mint slot: %w", err)
	}
	slots.SetApprovalForAll(simOwner.address, engineAddr, true)

	journal := storage.NewMemoryStorage(logger)
	defer func() {
		_ = journal.Close()
	}()

	engine, err := auction.New(&auction.Config{
		Address:  engineAddr,
		Registry: market,
		Sinks:    []auction.EventSink{storage.Sink{Storage: journal}},
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}

	bid := func(bidder simAccount, amount int64, content string) (*auction.BidResult, error) {
		return engine.Bid(ctx, bidder.address, auction.BidRequest{
			SlotID:       slotID,
			SlotToken:    app.MemorySlotToken,
			PaymentToken: app.MemoryPaymentToken,
			Amount:       big.NewInt(amount),
			ContentURI:   content,
		})
	}

	_, err = bid(simBidderA, 1000, "ipfs://a")
	if err != nil {
		return nil, fmt.Errorf("bid from %s: %w", simBidderA.name, err)
	}

	won, err := bid(simBidderB, 1200, "ipfs://b")
	if err != nil {
		return nil, fmt.Errorf("bid from %s: %w", simBidderB.name, err)
	}

	_, err = engine.Payout(ctx, simOwner.address, won.Bid.BidID, slotID, big.NewInt(1))
	if err != nil {
		return nil, fmt.Errorf("payout: %w", err)
	}

	batch, err := engine.BatchPayout(ctx, simOwner.address, won.Bid.BidID, slotID,
		[]*big.Int{big.NewInt(1), big.NewInt(2), big.NewInt(10)},
		[]common.Address{simX.address, simY.address, simZ.address})
	if err != nil {
		return nil, fmt.Errorf("batch payout: %w", err)
	}

	content, err := slots.SlotURI(ctx, slotID, engineAddr)
	if err != nil {
		return nil, fmt.Errorf("read slot content: %w", err)
	}

	events, err := journal.ListEvents(ctx, slotID, 0)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	sim := &simulation{
		Engine:    engineAddr,
		SlotID:    slotID,
		Remaining: batch.Remaining,
		Content:   content,
		Events:    events,
	}

	accounts := []simAccount{simBidderA, simBidderB, simOwner, simX, simY, simZ, {"engine", engineAddr}}
	for _, acct := range accounts {
		bal, err := payment.BalanceOf(ctx, acct.address)
		if err != nil {
			return nil, fmt.Errorf("balance of %s: %w", acct.name, err)
		}
		sim.Balances = append(sim.Balances, simBalance{Account: acct, Balance: bal})
	}

	return sim, nil
}

func printSimulation(out io.Writer, sim *simulation) error {
	fmt.Fprintf(out, "Slot %d content (engine %s): %s\n", sim.SlotID, sim.Engine.Hex(), sim.Content)
	fmt.Fprintf(out, "Remaining escrow: %s\n\n", sim.Remaining)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tKIND\tBID\tACCOUNT\tAMOUNT")
	for _, ev := range sim.Events {
		writeEventRow(w, ev)
	}
	err := w.Flush()
	if err != nil {
		return err
	}

	fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ACCOUNT\tADDRESS\tBALANCE")
	for _, b := range sim.Balances {
		fmt.Fprintf(w, "%s\t%s\t%s\n", b.Account.name, b.Account.address.Hex(), b.Balance)
	}
	return w.Flush()
}
