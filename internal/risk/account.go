// Package risk implements account-level guards and position sizing.
package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot is a consistent read of the account risk state. The sizer only
// ever sees snapshots; mutation goes through AccountState methods.
type Snapshot struct {
	Balance       decimal.Decimal
	DailyLoss     decimal.Decimal
	WeeklyLoss    decimal.Decimal
	OrdersToday   int
	OpenPositions int
}

// AccountState tracks process-wide realized losses, order counts and open
// positions. Writes happen only from the execution outcome handler; the
// sizer reads via Snapshot. Daily counters reset on a calendar-day boundary,
// weekly ones on an ISO-week boundary.
type AccountState struct {
	mu            sync.Mutex
	balance       decimal.Decimal
	dailyLoss     decimal.Decimal
	weeklyLoss    decimal.Decimal
	ordersToday   int
	openPositions int
	day           string
	week          string
}

// NewAccountState creates account state anchored at the given time.
func NewAccountState(balance decimal.Decimal, now time.Time) *AccountState {
	return &AccountState{
		balance: balance,
		day:     dayKey(now),
		week:    weekKey(now),
	}
}

func dayKey(t time.Time) string { return t.Format("2006-01-02") }

func weekKey(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

// rollover resets counters when a calendar boundary has passed. Caller
// holds the lock.
func (a *AccountState) rollover(now time.Time) {
	if d := dayKey(now); d != a.day {
		a.day = d
		a.dailyLoss = decimal.Zero
		a.ordersToday = 0
	}
	if w := weekKey(now); w != a.week {
		a.week = w
		a.weeklyLoss = decimal.Zero
	}
}

// Snapshot returns a consistent copy of the current state.
func (a *AccountState) Snapshot(now time.Time) Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rollover(now)
	return Snapshot{
		Balance:       a.balance,
		DailyLoss:     a.dailyLoss,
		WeeklyLoss:    a.weeklyLoss,
		OrdersToday:   a.ordersToday,
		OpenPositions: a.openPositions,
	}
}

// OrderSubmitted increments the daily order counter and the open position
// count for an order that reached the broker.
func (a *AccountState) OrderSubmitted(now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rollover(now)
	a.ordersToday++
	a.openPositions++
}

// OrderFailed releases the open-position slot reserved by OrderSubmitted
// for an order that never became a position.
func (a *AccountState) OrderFailed() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.openPositions > 0 {
		a.openPositions--
	}
}

// PositionClosed applies a realized profit or loss and frees the position
// slot. Losses (negative pnl) accumulate into the daily and weekly trackers.
func (a *AccountState) PositionClosed(pnl decimal.Decimal, now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rollover(now)
	a.balance = a.balance.Add(pnl)
	if pnl.IsNegative() {
		loss := pnl.Neg()
		a.dailyLoss = a.dailyLoss.Add(loss)
		a.weeklyLoss = a.weeklyLoss.Add(loss)
	}
	if a.openPositions > 0 {
		a.openPositions--
	}
}

// Restore overwrites counters from persisted history at startup.
func (a *AccountState) Restore(dailyLoss, weeklyLoss decimal.Decimal, ordersToday, openPositions int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dailyLoss = dailyLoss
	a.weeklyLoss = weeklyLoss
	a.ordersToday = ordersToday
	a.openPositions = openPositions
}
