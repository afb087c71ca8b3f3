package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"fx_trader/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func tempStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "trader.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_AccountStateRoundtrip(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()

	loaded, err := s.LoadAccountState(ctx)
	require.NoError(t, err)
	assert.Nil(t, loaded, "fresh database has no state")

	record := AccountRecord{
		Day:           "2026-08-23",
		Week:          "2026-W34",
		Balance:       dec("9850.50"),
		DailyLoss:     dec("149.50"),
		WeeklyLoss:    dec("320.00"),
		OrdersToday:   3,
		OpenPositions: 1,
	}
	require.NoError(t, s.SaveAccountState(ctx, record))

	loaded, err = s.LoadAccountState(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "2026-08-23", loaded.Day)
	assert.True(t, loaded.Balance.Equal(dec("9850.50")))
	assert.Equal(t, 3, loaded.OrdersToday)
}

func TestSQLiteStore_SaveOverwrites(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveAccountState(ctx, AccountRecord{Day: "2026-08-22", Balance: dec("10000")}))
	require.NoError(t, s.SaveAccountState(ctx, AccountRecord{Day: "2026-08-23", Balance: dec("9900")}))

	loaded, err := s.LoadAccountState(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "2026-08-23", loaded.Day)
	assert.True(t, loaded.Balance.Equal(dec("9900")))
}

func TestSQLiteStore_CorruptionDetected(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveAccountState(ctx, AccountRecord{Day: "2026-08-23", Balance: dec("10000")}))
	_, err := s.db.Exec(`UPDATE account_state SET data = '{"balance":"999999"}' WHERE id = 1`)
	require.NoError(t, err)

	_, err = s.LoadAccountState(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum")
}

func TestSQLiteStore_ExecutionHistory(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()

	intent := core.OrderIntent{
		Symbol:     "EURUSD",
		Direction:  core.Buy,
		EntryPrice: dec("1.1000"),
		StopLoss:   dec("1.09775"),
		TakeProfit: dec("1.1045"),
		Size:       dec("0.1"),
	}
	first := core.ExecutionOutcome{
		Kind:        core.OutcomeFilled,
		OrderID:     "ord-1",
		FillPrice:   dec("1.1001"),
		SubmittedAt: time.Date(2026, 8, 23, 9, 0, 0, 0, time.UTC),
	}
	second := core.ExecutionOutcome{
		Kind:        core.OutcomeRejected,
		OrderID:     "ord-2",
		Reason:      "insufficient margin",
		SubmittedAt: time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.RecordExecution(ctx, intent, first))
	require.NoError(t, s.RecordExecution(ctx, intent, second))

	records, err := s.RecentExecutions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	// Newest first
	assert.Equal(t, "ord-2", records[0].OrderID)
	assert.Equal(t, "REJECTED", records[0].Outcome)
	assert.Equal(t, "insufficient margin", records[0].Reason)
	assert.Equal(t, "ord-1", records[1].OrderID)
	assert.True(t, records[1].FillPrice.Equal(dec("1.1001")))
}
