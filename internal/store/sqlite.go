// Package store persists account risk state and execution history so loss
// limits and order counters survive a restart.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"fx_trader/internal/core"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

const schema = `
CREATE TABLE IF NOT EXISTS account_state (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	data TEXT NOT NULL,
	checksum BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS executions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at INTEGER NOT NULL,
	symbol TEXT NOT NULL,
	direction TEXT NOT NULL,
	entry_price TEXT NOT NULL,
	stop_loss TEXT NOT NULL,
	take_profit TEXT NOT NULL,
	size TEXT NOT NULL,
	outcome TEXT NOT NULL,
	order_id TEXT NOT NULL,
	fill_price TEXT NOT NULL,
	reason TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_executions_created_at ON executions(created_at);
`

// AccountRecord is the persisted shape of the account risk state. Day and
// week keys travel with the counters so a restore after a calendar boundary
// can discard stale values.
type AccountRecord struct {
	Day           string          `json:"day"`
	Week          string          `json:"week"`
	Balance       decimal.Decimal `json:"balance"`
	DailyLoss     decimal.Decimal `json:"daily_loss"`
	WeeklyLoss    decimal.Decimal `json:"weekly_loss"`
	OrdersToday   int             `json:"orders_today"`
	OpenPositions int             `json:"open_positions"`
}

// ExecutionRecord is one row of execution history.
type ExecutionRecord struct {
	CreatedAt  time.Time
	Symbol     string
	Direction  string
	EntryPrice decimal.Decimal
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
	Size       decimal.Decimal
	Outcome    string
	OrderID    string
	FillPrice  decimal.Decimal
	Reason     string
}

// SQLiteStore persists state to a single SQLite file in WAL mode.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database and applies the schema.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Enable WAL mode for crash recovery
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// SaveAccountState writes the single account row atomically.
func (s *SQLiteStore) SaveAccountState(ctx context.Context, record AccountRecord) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal account state: %w", err)
	}

	checksum := sha256.Sum256(data)
	query := `INSERT OR REPLACE INTO account_state (id, data, checksum, updated_at) VALUES (1, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, query, string(data), checksum[:], time.Now().UnixNano()); err != nil {
		return fmt.Errorf("failed to write account state: %w", err)
	}

	return tx.Commit()
}

// LoadAccountState reads the account row. A nil record with a nil error
// means no state has been saved yet.
func (s *SQLiteStore) LoadAccountState(ctx context.Context) (*AccountRecord, error) {
	query := `SELECT data, checksum FROM account_state WHERE id = 1`
	var data string
	var storedChecksum []byte
	err := s.db.QueryRowContext(ctx, query).Scan(&data, &storedChecksum)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read account state: %w", err)
	}

	computed := sha256.Sum256([]byte(data))
	if string(storedChecksum) != string(computed[:]) {
		return nil, fmt.Errorf("checksum verification failed: data corruption detected")
	}

	var record AccountRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal account state: %w", err)
	}
	return &record, nil
}

// RecordExecution appends one terminal outcome to the history.
func (s *SQLiteStore) RecordExecution(ctx context.Context, intent core.OrderIntent, outcome core.ExecutionOutcome) error {
	query := `INSERT INTO executions
		(created_at, symbol, direction, entry_price, stop_loss, take_profit, size, outcome, order_id, fill_price, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		outcome.SubmittedAt.UnixNano(),
		intent.Symbol,
		string(intent.Direction),
		intent.EntryPrice.String(),
		intent.StopLoss.String(),
		intent.TakeProfit.String(),
		intent.Size.String(),
		outcome.Kind.String(),
		outcome.OrderID,
		outcome.FillPrice.String(),
		outcome.Reason,
	)
	if err != nil {
		return fmt.Errorf("failed to record execution: %w", err)
	}
	return nil
}

// RecentExecutions returns up to limit rows, newest first.
func (s *SQLiteStore) RecentExecutions(ctx context.Context, limit int) ([]ExecutionRecord, error) {
	query := `SELECT created_at, symbol, direction, entry_price, stop_loss, take_profit, size, outcome, order_id, fill_price, reason
		FROM executions ORDER BY created_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer rows.Close()

	var records []ExecutionRecord
	for rows.Next() {
		var r ExecutionRecord
		var createdAt int64
		var entry, sl, tp, size, fill string
		if err := rows.Scan(&createdAt, &r.Symbol, &r.Direction, &entry, &sl, &tp, &size, &r.Outcome, &r.OrderID, &fill, &r.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan execution row: %w", err)
		}
		r.CreatedAt = time.Unix(0, createdAt).UTC()
		if r.EntryPrice, err = decimal.NewFromString(entry); err != nil {
			return nil, fmt.Errorf("corrupt entry price %q: %w", entry, err)
		}
		if r.StopLoss, err = decimal.NewFromString(sl); err != nil {
			return nil, fmt.Errorf("corrupt stop loss %q: %w", sl, err)
		}
		if r.TakeProfit, err = decimal.NewFromString(tp); err != nil {
			return nil, fmt.Errorf("corrupt take profit %q: %w", tp, err)
		}
		if r.Size, err = decimal.NewFromString(size); err != nil {
			return nil, fmt.Errorf("corrupt size %q: %w", size, err)
		}
		if r.FillPrice, err = decimal.NewFromString(fill); err != nil {
			return nil, fmt.Errorf("corrupt fill price %q: %w", fill, err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
