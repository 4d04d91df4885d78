package storage

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/jmoiron/sqlx"
	"github.com/mselser95/slot-auction/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	bidder = common.HexToAddress("0x0000000000000000000000000000000000000002")
	payTok = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	slotTk = common.HexToAddress("0x0000000000000000000000000000000000005489")
)

func testEvent(kind types.EventKind, slotID uint64, amount int64) *types.Event {
	ev := types.NewEvent(kind, slotID, 7)
	ev.Account = bidder
	ev.Caller = bidder
	ev.PaymentToken = payTok
	ev.SlotToken = slotTk
	ev.Amount = big.NewInt(amount)
	ev.ContentURI = "ipfs://content"
	return ev
}

func TestMemoryStorage_ListEvents(t *testing.T) {
	st := NewMemoryStorage(zap.NewNop())
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		require.NoError(t, st.StoreEvent(ctx, testEvent(types.EventPayoutApplied, 1, i)))
	}
	require.NoError(t, st.StoreEvent(ctx, testEvent(types.EventBidAccepted, 2, 99)))

	tests := []struct {
		name    string
		slotID  uint64
		limit   int
		amounts []string
	}{
		{name: "all", slotID: 1, limit: 10, amounts: []string{"1", "2", "3", "4", "5"}},
		{name: "most-recent-oldest-first", slotID: 1, limit: 2, amounts: []string{"4", "5"}},
		{name: "default-limit", slotID: 1, limit: 0, amounts: []string{"1", "2", "3", "4", "5"}},
		{name: "other-slot", slotID: 2, limit: 10, amounts: []string{"99"}},
		{name: "empty-slot", slotID: 3, limit: 10, amounts: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := st.ListEvents(ctx, tt.slotID, tt.limit)
			require.NoError(t, err)

			got := make([]string, len(events))
			for i, ev := range events {
				got[i] = ev.Amount.String()
			}
			assert.Equal(t, tt.amounts, got)
		})
	}
}

func TestMemoryStorage_StoresCopy(t *testing.T) {
	st := NewMemoryStorage(zap.NewNop())
	ctx := context.Background()

	ev := testEvent(types.EventBidAccepted, 1, 1000)
	require.NoError(t, st.StoreEvent(ctx, ev))
	ev.ContentURI = "mutated"

	events, err := st.ListEvents(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "ipfs://content", events[0].ContentURI)
}

func TestSink_PublishStores(t *testing.T) {
	st := NewMemoryStorage(zap.NewNop())
	sink := Sink{Storage: st}

	require.NoError(t, sink.Publish(context.Background(), testEvent(types.EventRefundIssued, 4, 700)))

	events, err := st.ListEvents(context.Background(), 4, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, types.EventRefundIssued, events[0].Kind)
}

func TestConsoleStorage_StoreEvent(t *testing.T) {
	st := NewConsoleStorage(zap.NewNop())
	var buf bytes.Buffer
	st.out = &buf

	ev := testEvent(types.EventBidAccepted, 1, 1200)
	require.NoError(t, st.StoreEvent(context.Background(), ev))

	output := buf.String()
	assert.Contains(t, output, "BID ACCEPTED")
	assert.Contains(t, output, "1200")
	assert.Contains(t, output, bidder.Hex())
	assert.Contains(t, output, "ipfs://content")

	events, err := st.ListEvents(context.Background(), 1, 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.NoError(t, st.Close())
}

func newMockPostgres(t *testing.T) (*PostgresStorage, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return NewPostgresStorageFromDB(sqlx.NewDb(db, "postgres"), zap.NewNop()), mock
}

func TestPostgresStorage_StoreEvent(t *testing.T) {
	st, mock := newMockPostgres(t)
	ev := testEvent(types.EventBidAccepted, 1, 1000)

	mock.ExpectExec("INSERT INTO settlement_events").
		WithArgs(
			ev.ID,
			string(ev.Kind),
			int64(1),
			int64(7),
			bidder.Hex(),
			bidder.Hex(),
			payTok.Hex(),
			slotTk.Hex(),
			"1000",
			"ipfs://content",
			sqlmock.AnyArg(), // occurred_at
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, st.StoreEvent(context.Background(), ev))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStorage_StoreEventError(t *testing.T) {
	st, mock := newMockPostgres(t)

	mock.ExpectExec("INSERT INTO settlement_events").
		WillReturnError(errors.New("connection reset"))

	err := st.StoreEvent(context.Background(), testEvent(types.EventPayoutApplied, 1, 1))
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "insert event"))
}

func TestPostgresStorage_ListEvents(t *testing.T) {
	st, mock := newMockPostgres(t)
	now := time.Now().UTC()

	columns := []string{
		"id", "kind", "slot_id", "bid_id", "account", "caller",
		"payment_token", "slot_token", "amount", "content_uri", "occurred_at",
	}
	rows := sqlmock.NewRows(columns).
		AddRow("b", "PayOutIncreased", int64(1), int64(2), bidder.Hex(), bidder.Hex(),
			payTok.Hex(), slotTk.Hex(), "13", "", now).
		AddRow("a", "BidSuccessed", int64(1), int64(2), bidder.Hex(), bidder.Hex(),
			payTok.Hex(), slotTk.Hex(), "1200", "cccc", now.Add(-time.Minute))

	mock.ExpectQuery("SELECT (.+) FROM settlement_events").
		WithArgs(int64(1), int64(2)).
		WillReturnRows(rows)

	events, err := st.ListEvents(context.Background(), 1, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, "a", events[0].ID)
	assert.Equal(t, types.EventBidAccepted, events[0].Kind)
	assert.Equal(t, "1200", events[0].Amount.String())
	assert.Equal(t, "cccc", events[0].ContentURI)
	assert.Equal(t, "b", events[1].ID)
	assert.Equal(t, payTok, events[1].PaymentToken)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStorage_ListEventsBadAmount(t *testing.T) {
	st, mock := newMockPostgres(t)

	rows := sqlmock.NewRows([]string{"id", "kind", "slot_id", "bid_id", "account", "caller",
		"payment_token", "slot_token", "amount", "content_uri", "occurred_at"}).
		AddRow("a", "BidSuccessed", int64(1), int64(1), bidder.Hex(), bidder.Hex(),
			payTok.Hex(), slotTk.Hex(), "not-a-number", "", time.Now())

	mock.ExpectQuery("SELECT (.+) FROM settlement_events").WillReturnRows(rows)

	_, err := st.ListEvents(context.Background(), 1, 0)
	require.Error(t, err)
}

func TestPostgresStorage_Close(t *testing.T) {
	st, mock := newMockPostgres(t)
	mock.ExpectClose()

	require.NoError(t, st.Close())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrations_Schema(t *testing.T) {
	migrations, err := Migrations.FindMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, migrations)

	first := migrations[0]
	assert.Equal(t, "0001_settlement_events", first.Id)
	assert.Contains(t, first.Up[0], "settlement_events")
	assert.NotEmpty(t, first.Down)
}
