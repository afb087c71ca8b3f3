package execution

import (
	"context"
	"net"
	"testing"
	"time"

	"fx_trader/internal/core"
	"fx_trader/internal/fix"
	"fx_trader/internal/risk"
	"fx_trader/pkg/retry"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLogger struct{}

func (m *mockLogger) Debug(msg string, fields ...interface{})               {}
func (m *mockLogger) Info(msg string, fields ...interface{})                {}
func (m *mockLogger) Warn(msg string, fields ...interface{})                {}
func (m *mockLogger) Error(msg string, fields ...interface{})               {}
func (m *mockLogger) Fatal(msg string, fields ...interface{})               {}
func (m *mockLogger) WithField(key string, value interface{}) core.ILogger  { return m }
func (m *mockLogger) WithFields(fields map[string]interface{}) core.ILogger { return m }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func buyIntent() core.OrderIntent {
	return core.OrderIntent{
		Symbol:     "EURUSD",
		Direction:  core.Buy,
		EntryPrice: dec("1.1000"),
		StopLoss:   dec("1.09775"),
		TakeProfit: dec("1.1045"),
		Size:       dec("0.1"),
	}
}

func TestSimulatedExecutor_NoNetwork(t *testing.T) {
	exec := NewSimulatedExecutor(&mockLogger{})

	first, err := exec.Submit(context.Background(), buyIntent())
	require.NoError(t, err)
	second, err := exec.Submit(context.Background(), buyIntent())
	require.NoError(t, err)

	assert.Equal(t, core.OutcomeSimulated, first.Kind)
	assert.True(t, first.FillPrice.Equal(dec("1.1000")))
	assert.NotEqual(t, first.OrderID, second.OrderID, "each dry run gets a fresh order id")
	assert.NoError(t, exec.Close())
}

func TestInstrumentID_Mapping(t *testing.T) {
	id, err := InstrumentID("EURUSD")
	require.NoError(t, err)
	assert.Equal(t, "1", id)

	_, err = InstrumentID("DOGEUSD")
	require.Error(t, err)
}

func TestValidateSymbols_ListsAllMissing(t *testing.T) {
	require.NoError(t, ValidateSymbols([]string{"EURUSD", "BTCUSD"}))

	err := ValidateSymbols([]string{"EURUSD", "DOGEUSD", "PEPUSD"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DOGEUSD")
	assert.Contains(t, err.Error(), "PEPUSD")
}

// brokerStub is the server end of an in-memory pipe. It acknowledges the
// logon and hands every parsed message to the test through a channel.
type brokerStub struct {
	conn net.Conn
	msgs chan *fix.Message
	seq  int
}

func newBrokerStub(conn net.Conn) *brokerStub {
	b := &brokerStub{conn: conn, msgs: make(chan *fix.Message, 16), seq: 1}
	go func() {
		parser := &fix.Parser{}
		buf := make([]byte, 4096)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				parser.Feed(buf[:n])
				for {
					msg, perr := parser.Next()
					if perr != nil || msg == nil {
						break
					}
					b.msgs <- msg
				}
			}
			if err != nil {
				close(b.msgs)
				return
			}
		}
	}()
	return b
}

func (b *brokerStub) expect(t *testing.T, msgType string) *fix.Message {
	t.Helper()
	select {
	case msg, ok := <-b.msgs:
		require.True(t, ok, "broker connection closed while expecting %s", msgType)
		require.Equal(t, msgType, msg.MsgType())
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out expecting %s", msgType)
		return nil
	}
}

func (b *brokerStub) send(t *testing.T, msg *fix.Message) {
	t.Helper()
	framed := fix.NewMessage(msg.MsgType()).
		Append(fix.TagSenderCompID, "BROKER").
		Append(fix.TagTargetCompID, "trader.1001").
		AppendInt(fix.TagMsgSeqNum, b.seq).
		Append(fix.TagSendingTime, time.Now().UTC().Format("20060102-15:04:05.000"))
	for _, f := range msg.Fields()[1:] { // skip the duplicate 35
		framed.Append(f.Tag, f.Value)
	}
	b.seq++
	_, err := b.conn.Write(framed.Encode())
	require.NoError(t, err)
}

func (b *brokerStub) ackLogon(t *testing.T) {
	t.Helper()
	b.expect(t, fix.MsgLogon)
	b.send(t, fix.NewMessage(fix.MsgLogon).Append(fix.TagEncryptMethod, "0"))
}

func liveFixture(t *testing.T, cfg LiveConfig, account *risk.AccountState) (*LiveExecutor, *brokerStub) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	session := fix.NewSession(fix.SessionConfig{
		Address:           "pipe",
		SenderCompID:      "trader.1001",
		TargetCompID:      "BROKER",
		SenderSubID:       "TRADE",
		Account:           "1001",
		Password:          "pw",
		HeartbeatInterval: 30 * time.Second,
		ConnectTimeout:    time.Second,
		Dialer: func(ctx context.Context, addr string) (net.Conn, error) {
			return clientConn, nil
		},
	}, &mockLogger{}, nil)
	t.Cleanup(func() {
		session.Close()
		serverConn.Close()
	})
	if cfg.ReconnectPolicy.MaxAttempts == 0 {
		cfg.ReconnectPolicy = retry.RetryPolicy{MaxAttempts: 1, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
	}
	return NewLiveExecutor(cfg, session, account, &mockLogger{}), newBrokerStub(serverConn)
}

func testAccount() *risk.AccountState {
	return risk.NewAccountState(dec("10000"), time.Now())
}

func TestLiveExecutor_FillWithProtectiveOrders(t *testing.T) {
	account := testAccount()
	exec, broker := liveFixture(t, LiveConfig{
		FillTimeout:      2 * time.Second,
		MaxDailyOrders:   20,
		MaxOpenPositions: 5,
	}, account)

	type result struct {
		outcome core.ExecutionOutcome
		err     error
	}
	done := make(chan result, 1)
	go func() {
		out, err := exec.Submit(context.Background(), buyIntent())
		done <- result{out, err}
	}()

	broker.ackLogon(t)

	order := broker.expect(t, fix.MsgNewOrderSingle)
	clOrdID, ok := order.Get(fix.TagClOrdID)
	require.True(t, ok)
	qty, _ := order.Get(fix.TagOrderQty)
	assert.Equal(t, "10000", qty, "0.1 lots in units")
	ordType, _ := order.Get(fix.TagOrdType)
	assert.Equal(t, "1", ordType)

	broker.send(t, fix.NewMessage(fix.MsgExecutionReport).
		Append(fix.TagClOrdID, clOrdID).
		Append(fix.TagOrderID, "broker-1").
		Append(fix.TagExecType, "2").
		Append(fix.TagOrdStatus, fix.OrdStatusFilled).
		Append(fix.TagPrice, "1.10010").
		Append(fix.TagLastQty, "10000"))

	// Exits follow the fill: stop first, then limit, both on the sell side.
	stop := broker.expect(t, fix.MsgNewOrderSingle)
	stopType, _ := stop.Get(fix.TagOrdType)
	assert.Equal(t, "3", stopType)
	stopSide, _ := stop.Get(fix.TagSide)
	assert.Equal(t, fix.SideSell, stopSide)
	stopPx, _ := stop.Get(fix.TagStopPx)
	assert.Equal(t, "1.09775", stopPx)

	limit := broker.expect(t, fix.MsgNewOrderSingle)
	limitType, _ := limit.Get(fix.TagOrdType)
	assert.Equal(t, "2", limitType)
	limitPx, _ := limit.Get(fix.TagPrice)
	assert.Equal(t, "1.10450", limitPx)

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, core.OutcomeFilled, res.outcome.Kind)
	assert.Equal(t, "1.1001", res.outcome.FillPrice.String())
	assert.False(t, res.outcome.SlippageExceeded)

	state := account.Snapshot(time.Now())
	assert.Equal(t, 1, state.OrdersToday)
	assert.Equal(t, 1, state.OpenPositions)
}

func TestLiveExecutor_StopFillRealizesLoss(t *testing.T) {
	account := testAccount()
	exec, broker := liveFixture(t, LiveConfig{
		FillTimeout:      2 * time.Second,
		MaxDailyOrders:   20,
		MaxOpenPositions: 5,
	}, account)

	done := make(chan core.ExecutionOutcome, 1)
	go func() {
		out, err := exec.Submit(context.Background(), buyIntent())
		require.NoError(t, err)
		done <- out
	}()

	broker.ackLogon(t)
	order := broker.expect(t, fix.MsgNewOrderSingle)
	clOrdID, _ := order.Get(fix.TagClOrdID)
	broker.send(t, fix.NewMessage(fix.MsgExecutionReport).
		Append(fix.TagClOrdID, clOrdID).
		Append(fix.TagExecType, "2").
		Append(fix.TagOrdStatus, fix.OrdStatusFilled).
		Append(fix.TagPrice, "1.10000").
		Append(fix.TagLastQty, "10000"))

	stop := broker.expect(t, fix.MsgNewOrderSingle)
	stopID, _ := stop.Get(fix.TagClOrdID)
	assert.Equal(t, "SL-"+clOrdID, stopID)
	broker.expect(t, fix.MsgNewOrderSingle) // limit
	<-done
	assert.Equal(t, 1, account.Snapshot(time.Now()).OpenPositions)

	// The market moves against the position and the stop order fills.
	broker.send(t, fix.NewMessage(fix.MsgExecutionReport).
		Append(fix.TagClOrdID, stopID).
		Append(fix.TagExecType, "2").
		Append(fix.TagOrdStatus, fix.OrdStatusFilled).
		Append(fix.TagPrice, "1.09775").
		Append(fix.TagLastQty, "10000"))

	require.Eventually(t, func() bool {
		return account.Snapshot(time.Now()).OpenPositions == 0
	}, 2*time.Second, 10*time.Millisecond, "stop fill should release the position slot")

	// 0.00225 against a long of 10000 units
	state := account.Snapshot(time.Now())
	assert.True(t, state.DailyLoss.Equal(dec("22.5")), "daily loss %s", state.DailyLoss)
	assert.True(t, state.WeeklyLoss.Equal(dec("22.5")), "weekly loss %s", state.WeeklyLoss)
	assert.True(t, state.Balance.Equal(dec("9977.5")), "balance %s", state.Balance)
}

func TestLiveExecutor_TakeProfitRealizesGain(t *testing.T) {
	account := testAccount()
	exec, broker := liveFixture(t, LiveConfig{
		FillTimeout:      2 * time.Second,
		MaxDailyOrders:   20,
		MaxOpenPositions: 5,
	}, account)

	done := make(chan core.ExecutionOutcome, 1)
	go func() {
		out, err := exec.Submit(context.Background(), buyIntent())
		require.NoError(t, err)
		done <- out
	}()

	broker.ackLogon(t)
	order := broker.expect(t, fix.MsgNewOrderSingle)
	clOrdID, _ := order.Get(fix.TagClOrdID)
	broker.send(t, fix.NewMessage(fix.MsgExecutionReport).
		Append(fix.TagClOrdID, clOrdID).
		Append(fix.TagExecType, "2").
		Append(fix.TagOrdStatus, fix.OrdStatusFilled).
		Append(fix.TagPrice, "1.10000").
		Append(fix.TagLastQty, "10000"))

	broker.expect(t, fix.MsgNewOrderSingle) // stop
	limit := broker.expect(t, fix.MsgNewOrderSingle)
	limitID, _ := limit.Get(fix.TagClOrdID)
	assert.Equal(t, "TP-"+clOrdID, limitID)
	<-done

	broker.send(t, fix.NewMessage(fix.MsgExecutionReport).
		Append(fix.TagClOrdID, limitID).
		Append(fix.TagExecType, "2").
		Append(fix.TagOrdStatus, fix.OrdStatusFilled).
		Append(fix.TagPrice, "1.10450").
		Append(fix.TagLastQty, "10000"))

	require.Eventually(t, func() bool {
		return account.Snapshot(time.Now()).OpenPositions == 0
	}, 2*time.Second, 10*time.Millisecond)

	state := account.Snapshot(time.Now())
	assert.True(t, state.DailyLoss.IsZero(), "a profit never counts as loss")
	assert.True(t, state.Balance.Equal(dec("10045")), "balance %s", state.Balance)
}

func TestLiveExecutor_SlippageFlagged(t *testing.T) {
	exec, broker := liveFixture(t, LiveConfig{
		FillTimeout:          2 * time.Second,
		SlippageTolerancePct: dec("0.01"),
		MaxDailyOrders:       20,
		MaxOpenPositions:     5,
	}, testAccount())

	done := make(chan core.ExecutionOutcome, 1)
	go func() {
		out, err := exec.Submit(context.Background(), buyIntent())
		require.NoError(t, err)
		done <- out
	}()

	broker.ackLogon(t)
	order := broker.expect(t, fix.MsgNewOrderSingle)
	clOrdID, _ := order.Get(fix.TagClOrdID)

	// 1.1050 vs 1.1000 reference is ~0.45% divergence, tolerance is 0.01%
	broker.send(t, fix.NewMessage(fix.MsgExecutionReport).
		Append(fix.TagClOrdID, clOrdID).
		Append(fix.TagExecType, "2").
		Append(fix.TagOrdStatus, fix.OrdStatusFilled).
		Append(fix.TagPrice, "1.10500").
		Append(fix.TagLastQty, "10000"))

	broker.expect(t, fix.MsgNewOrderSingle) // stop
	broker.expect(t, fix.MsgNewOrderSingle) // limit

	outcome := <-done
	assert.Equal(t, core.OutcomeFilled, outcome.Kind)
	assert.True(t, outcome.SlippageExceeded)
}

func TestLiveExecutor_BrokerRejectionReleasesSlot(t *testing.T) {
	account := testAccount()
	exec, broker := liveFixture(t, LiveConfig{
		FillTimeout:      2 * time.Second,
		MaxDailyOrders:   20,
		MaxOpenPositions: 5,
	}, account)

	done := make(chan core.ExecutionOutcome, 1)
	go func() {
		out, err := exec.Submit(context.Background(), buyIntent())
		require.NoError(t, err)
		done <- out
	}()

	broker.ackLogon(t)
	order := broker.expect(t, fix.MsgNewOrderSingle)
	clOrdID, _ := order.Get(fix.TagClOrdID)

	broker.send(t, fix.NewMessage(fix.MsgExecutionReport).
		Append(fix.TagClOrdID, clOrdID).
		Append(fix.TagExecType, "8").
		Append(fix.TagOrdStatus, fix.OrdStatusRejected).
		Append(fix.TagText, "insufficient margin"))

	outcome := <-done
	assert.Equal(t, core.OutcomeRejected, outcome.Kind)
	assert.Equal(t, "insufficient margin", outcome.Reason)

	state := account.Snapshot(time.Now())
	assert.Equal(t, 1, state.OrdersToday, "rejected orders still count against the daily budget")
	assert.Equal(t, 0, state.OpenPositions, "rejection frees the position slot")
}

func TestLiveExecutor_FillTimeoutReleasesSlot(t *testing.T) {
	account := testAccount()
	exec, broker := liveFixture(t, LiveConfig{
		FillTimeout:      150 * time.Millisecond,
		MaxDailyOrders:   20,
		MaxOpenPositions: 5,
	}, account)

	done := make(chan core.ExecutionOutcome, 1)
	go func() {
		out, err := exec.Submit(context.Background(), buyIntent())
		require.NoError(t, err)
		done <- out
	}()

	broker.ackLogon(t)
	broker.expect(t, fix.MsgNewOrderSingle)
	// Broker never answers.

	outcome := <-done
	assert.Equal(t, core.OutcomeTimedOut, outcome.Kind)
	assert.Equal(t, 0, account.Snapshot(time.Now()).OpenPositions)
}

func TestLiveExecutor_DailyOrderGate(t *testing.T) {
	account := testAccount()
	account.OrderSubmitted(time.Now())
	exec, _ := liveFixture(t, LiveConfig{
		MaxDailyOrders:   1,
		MaxOpenPositions: 5,
	}, account)

	outcome, err := exec.Submit(context.Background(), buyIntent())
	require.NoError(t, err)
	assert.Equal(t, core.OutcomeRejected, outcome.Kind)
	assert.Contains(t, outcome.Reason, "daily order limit")
}

func TestLiveExecutor_OpenPositionGate(t *testing.T) {
	account := testAccount()
	account.OrderSubmitted(time.Now())
	exec, _ := liveFixture(t, LiveConfig{
		MaxDailyOrders:   20,
		MaxOpenPositions: 1,
	}, account)

	outcome, err := exec.Submit(context.Background(), buyIntent())
	require.NoError(t, err)
	assert.Equal(t, core.OutcomeRejected, outcome.Kind)
	assert.Contains(t, outcome.Reason, "max open positions")
}

func TestLiveExecutor_ConfirmationHold(t *testing.T) {
	exec, _ := liveFixture(t, LiveConfig{
		MaxDailyOrders:      20,
		MaxOpenPositions:    5,
		RequireConfirmation: true,
	}, testAccount())

	outcome, err := exec.Submit(context.Background(), buyIntent())
	require.NoError(t, err)
	assert.Equal(t, core.OutcomeRejected, outcome.Kind)
	assert.Contains(t, outcome.Reason, "confirmation")
}

func TestLiveExecutor_UnmappedSymbolIsError(t *testing.T) {
	exec, _ := liveFixture(t, LiveConfig{
		MaxDailyOrders:   20,
		MaxOpenPositions: 5,
	}, testAccount())

	intent := buyIntent()
	intent.Symbol = "DOGEUSD"
	_, err := exec.Submit(context.Background(), intent)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no instrument id")
}

func TestLiveExecutor_EmergencyStop(t *testing.T) {
	account := testAccount()
	exec, broker := liveFixture(t, LiveConfig{
		FillTimeout:      2 * time.Second,
		MaxDailyOrders:   20,
		MaxOpenPositions: 5,
	}, account)

	done := make(chan core.ExecutionOutcome, 1)
	go func() {
		out, err := exec.Submit(context.Background(), buyIntent())
		require.NoError(t, err)
		done <- out
	}()

	broker.ackLogon(t)
	order := broker.expect(t, fix.MsgNewOrderSingle)
	clOrdID, _ := order.Get(fix.TagClOrdID)
	broker.send(t, fix.NewMessage(fix.MsgExecutionReport).
		Append(fix.TagClOrdID, clOrdID).
		Append(fix.TagExecType, "2").
		Append(fix.TagOrdStatus, fix.OrdStatusFilled).
		Append(fix.TagPrice, "1.10000").
		Append(fix.TagLastQty, "10000"))
	broker.expect(t, fix.MsgNewOrderSingle) // stop
	broker.expect(t, fix.MsgNewOrderSingle) // limit
	<-done

	go exec.EmergencyStop(context.Background())

	closeOrder := broker.expect(t, fix.MsgNewOrderSingle)
	closeID, _ := closeOrder.Get(fix.TagClOrdID)
	assert.Contains(t, closeID, "CLOSE-")
	closeSide, _ := closeOrder.Get(fix.TagSide)
	assert.Equal(t, fix.SideSell, closeSide, "long position closes with a sell")

	outcome, err := exec.Submit(context.Background(), buyIntent())
	require.NoError(t, err)
	assert.Equal(t, core.OutcomeRejected, outcome.Kind)
	assert.Contains(t, outcome.Reason, "emergency stop")
}
