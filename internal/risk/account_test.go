package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

var monday = time.Date(2026, 8, 17, 10, 0, 0, 0, time.UTC)

func TestAccountState_OrderLifecycle(t *testing.T) {
	state := NewAccountState(decimal.NewFromInt(10000), monday)

	state.OrderSubmitted(monday)
	snap := state.Snapshot(monday)
	assert.Equal(t, 1, snap.OrdersToday)
	assert.Equal(t, 1, snap.OpenPositions)

	state.PositionClosed(decimal.NewFromInt(-50), monday)
	snap = state.Snapshot(monday)
	assert.Equal(t, 0, snap.OpenPositions)
	assert.True(t, snap.DailyLoss.Equal(decimal.NewFromInt(50)))
	assert.True(t, snap.WeeklyLoss.Equal(decimal.NewFromInt(50)))
	assert.True(t, snap.Balance.Equal(decimal.NewFromInt(9950)))
}

func TestAccountState_ProfitDoesNotCountAsLoss(t *testing.T) {
	state := NewAccountState(decimal.NewFromInt(10000), monday)

	state.OrderSubmitted(monday)
	state.PositionClosed(decimal.NewFromInt(80), monday)

	snap := state.Snapshot(monday)
	assert.True(t, snap.DailyLoss.IsZero())
	assert.True(t, snap.Balance.Equal(decimal.NewFromInt(10080)))
}

func TestAccountState_DailyRollover(t *testing.T) {
	state := NewAccountState(decimal.NewFromInt(10000), monday)

	state.OrderSubmitted(monday)
	state.PositionClosed(decimal.NewFromInt(-50), monday)

	tuesday := monday.AddDate(0, 0, 1)
	snap := state.Snapshot(tuesday)

	assert.True(t, snap.DailyLoss.IsZero(), "daily loss resets on a new day")
	assert.Equal(t, 0, snap.OrdersToday)
	assert.True(t, snap.WeeklyLoss.Equal(decimal.NewFromInt(50)), "weekly loss survives the day boundary")
}

func TestAccountState_WeeklyRollover(t *testing.T) {
	state := NewAccountState(decimal.NewFromInt(10000), monday)

	state.OrderSubmitted(monday)
	state.PositionClosed(decimal.NewFromInt(-50), monday)

	nextMonday := monday.AddDate(0, 0, 7)
	snap := state.Snapshot(nextMonday)

	assert.True(t, snap.WeeklyLoss.IsZero())
	assert.True(t, snap.DailyLoss.IsZero())
}

func TestAccountState_OrderFailedReleasesSlot(t *testing.T) {
	state := NewAccountState(decimal.NewFromInt(10000), monday)

	state.OrderSubmitted(monday)
	state.OrderFailed()

	snap := state.Snapshot(monday)
	assert.Equal(t, 0, snap.OpenPositions)
	assert.Equal(t, 1, snap.OrdersToday, "failed orders still count against the daily ceiling")
}

func TestAccountState_Restore(t *testing.T) {
	state := NewAccountState(decimal.NewFromInt(10000), monday)
	state.Restore(decimal.NewFromInt(120), decimal.NewFromInt(340), 7, 2)

	snap := state.Snapshot(monday)
	assert.True(t, snap.DailyLoss.Equal(decimal.NewFromInt(120)))
	assert.True(t, snap.WeeklyLoss.Equal(decimal.NewFromInt(340)))
	assert.Equal(t, 7, snap.OrdersToday)
	assert.Equal(t, 2, snap.OpenPositions)
}
