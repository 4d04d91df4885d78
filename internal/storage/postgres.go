package storage

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/mselser95/slot-auction/pkg/types"
	migrate "github.com/rubenv/sql-migrate"
	"go.uber.org/zap"
)

const migrationTable = "settlement_migrations"

// Migrations is the journal schema.
//
//nolint:gochecknoglobals // migration source
var Migrations = &migrate.MemoryMigrationSource{
	Migrations: []*migrate.Migration{
		{
			Id: "0001_settlement_events",
			Up: []string{`
				CREATE TABLE IF NOT EXISTS settlement_events (
					seq           BIGSERIAL PRIMARY KEY,
					id            UUID NOT NULL UNIQUE,
					kind          TEXT NOT NULL,
					slot_id       BIGINT NOT NULL,
					bid_id        BIGINT NOT NULL,
					account       TEXT NOT NULL,
					caller        TEXT NOT NULL,
					payment_token TEXT NOT NULL,
					slot_token    TEXT NOT NULL,
					amount        NUMERIC(78, 0) NOT NULL,
					content_uri   TEXT NOT NULL DEFAULT '',
					occurred_at   TIMESTAMPTZ NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS settlement_events_slot_idx ON settlement_events (slot_id, seq)`,
			},
			Down: []string{`DROP TABLE IF EXISTS settlement_events`},
		},
	},
}

// PostgresStorage implements Storage using PostgreSQL.
type PostgresStorage struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// PostgresConfig holds PostgreSQL configuration.
type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
	SSLMode  string
	Logger   *zap.Logger
}

type eventRow struct {
	ID           string    `db:"id"`
	Kind         string    `db:"kind"`
	SlotID       int64     `db:"slot_id"`
	BidID        int64     `db:"bid_id"`
	Account      string    `db:"account"`
	Caller       string    `db:"caller"`
	PaymentToken string    `db:"payment_token"`
	SlotToken    string    `db:"slot_token"`
	Amount       string    `db:"amount"`
	ContentURI   string    `db:"content_uri"`
	OccurredAt   time.Time `db:"occurred_at"`
}

// NewPostgresStorage connects to PostgreSQL and applies pending migrations.
func NewPostgresStorage(cfg *PostgresConfig) (*PostgresStorage, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Ping()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	applied, err := Migrate(db.DB)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	cfg.Logger.Info("postgres-storage-connected",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database),
		zap.Int("migrations-applied", applied))

	return &PostgresStorage{
		db:     db,
		logger: cfg.Logger,
	}, nil
}

// NewPostgresStorageFromDB wraps an existing connection without migrating.
func NewPostgresStorageFromDB(db *sqlx.DB, logger *zap.Logger) *PostgresStorage {
	return &PostgresStorage{db: db, logger: logger}
}

// Migrate applies the journal schema.
func Migrate(db *sql.DB) (int, error) {
	migrate.SetTable(migrationTable)
	n, err := migrate.Exec(db, "postgres", Migrations, migrate.Up)
	if err != nil {
		return 0, fmt.Errorf("apply migrations: %w", err)
	}
	return n, nil
}

// StoreEvent inserts a settlement event.
func (p *PostgresStorage) StoreEvent(ctx context.Context, ev *types.Event) error {
	row := toRow(ev)

	query := `
		INSERT INTO settlement_events (
			id, kind, slot_id, bid_id, account, caller,
			payment_token, slot_token, amount, content_uri, occurred_at
		) VALUES (
			:id, :kind, :slot_id, :bid_id, :account, :caller,
			:payment_token, :slot_token, :amount, :content_uri, :occurred_at
		)
	`

	_, err := p.db.NamedExecContext(ctx, query, row)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	p.logger.Debug("event-stored",
		zap.String("event-id", ev.ID),
		zap.String("kind", string(ev.Kind)),
		zap.Uint64("slot-id", ev.SlotID))

	return nil
}

// ListEvents returns the most recent events for a slot, oldest first.
func (p *PostgresStorage) ListEvents(ctx context.Context, slotID uint64, limit int) ([]*types.Event, error) {
	query := `
		SELECT id, kind, slot_id, bid_id, account, caller,
			payment_token, slot_token, amount::TEXT AS amount, content_uri, occurred_at
		FROM settlement_events
		WHERE slot_id = $1
		ORDER BY seq DESC
		LIMIT $2
	`

	var rows []eventRow
	err := p.db.SelectContext(ctx, &rows, query, int64(slotID), normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("select events: %w", err)
	}

	events := make([]*types.Event, len(rows))
	for i, row := range rows {
		ev, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		// Rows come newest first.
		events[len(rows)-1-i] = ev
	}

	return events, nil
}

// Close closes the database connection.
func (p *PostgresStorage) Close() error {
	p.logger.Info("closing-postgres-storage")
	return p.db.Close()
}

func toRow(ev *types.Event) eventRow {
	amount := "0"
	if ev.Amount != nil {
		amount = ev.Amount.String()
	}
	return eventRow{
		ID:           ev.ID,
		Kind:         string(ev.Kind),
		SlotID:       int64(ev.SlotID),
		BidID:        int64(ev.BidID),
		Account:      ev.Account.Hex(),
		Caller:       ev.Caller.Hex(),
		PaymentToken: ev.PaymentToken.Hex(),
		SlotToken:    ev.SlotToken.Hex(),
		Amount:       amount,
		ContentURI:   ev.ContentURI,
		OccurredAt:   ev.OccurredAt,
	}
}

func fromRow(row eventRow) (*types.Event, error) {
	amount, ok := new(big.Int).SetString(row.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("event %s: invalid amount %q", row.ID, row.Amount)
	}
	return &types.Event{
		ID:           row.ID,
		Kind:         types.EventKind(row.Kind),
		SlotID:       uint64(row.SlotID),
		BidID:        uint64(row.BidID),
		Account:      common.HexToAddress(row.Account),
		Caller:       common.HexToAddress(row.Caller),
		PaymentToken: common.HexToAddress(row.PaymentToken),
		SlotToken:    common.HexToAddress(row.SlotToken),
		Amount:       amount,
		ContentURI:   row.ContentURI,
		OccurredAt:   row.OccurredAt,
	}, nil
}

// Ping checks the database connection.
func (p *PostgresStorage) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}
