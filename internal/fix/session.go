package fix

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"fx_trader/internal/core"

	"github.com/shopspring/decimal"
)

// Status is the session connection state.
type Status int32

const (
	StatusDisconnected Status = iota
	StatusLoggingOn
	StatusLoggedOn
	StatusDisconnecting
)

func (s Status) String() string {
	switch s {
	case StatusLoggingOn:
		return "LOGGING_ON"
	case StatusLoggedOn:
		return "LOGGED_ON"
	case StatusDisconnecting:
		return "DISCONNECTING"
	default:
		return "DISCONNECTED"
	}
}

// Order status values carried in execution reports (tag 39).
const (
	OrdStatusNew             = "0"
	OrdStatusPartiallyFilled = "1"
	OrdStatusFilled          = "2"
	OrdStatusCanceled        = "4"
	OrdStatusRejected        = "8"
)

// Side values (tag 54).
const (
	SideBuy  = "1"
	SideSell = "2"
)

// ErrAwaitTimeout is returned when no terminal execution report arrives
// within the fill-wait deadline.
var ErrAwaitTimeout = errors.New("fill wait timed out")

// ExecReport is the decoded subset of an execution report the pipeline
// cares about.
type ExecReport struct {
	ClOrdID   string
	OrderID   string
	ExecType  string
	OrdStatus string
	Price     decimal.Decimal
	Qty       decimal.Decimal
	Text      string
}

// Terminal reports end the fill wait; partial fills keep it open.
func (r ExecReport) Terminal() bool {
	switch r.OrdStatus {
	case OrdStatusFilled, OrdStatusRejected, OrdStatusCanceled:
		return true
	}
	return false
}

// Dialer opens the transport connection. Injectable so session behavior is
// testable against an in-memory pipe.
type Dialer func(ctx context.Context, addr string) (net.Conn, error)

// SessionConfig identifies the session and its timing parameters.
type SessionConfig struct {
	Address           string
	SenderCompID      string
	TargetCompID      string
	SenderSubID       string
	Account           string
	Username          string
	Password          string
	HeartbeatInterval time.Duration
	ConnectTimeout    time.Duration
	Dialer            Dialer
}

// Session is the single stateful connection to the broker. Exactly one
// exists per process; it outlives any single order. All sequence-number
// and in-flight bookkeeping is guarded by one mutex, and submission is
// serialized by the executor that owns this session.
type Session struct {
	cfg     SessionConfig
	logger  core.ILogger
	wireLog *WireLog

	mu          sync.Mutex
	conn        net.Conn
	status      Status
	seqOut      int
	seqIn       int // next expected inbound sequence number
	lastInbound time.Time
	logonAck    chan struct{}
	reports     map[string]chan ExecReport
	done        chan struct{}
}

// NewSession creates a disconnected session.
func NewSession(cfg SessionConfig, logger core.ILogger, wireLog *WireLog) *Session {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.Dialer == nil {
		cfg.Dialer = func(ctx context.Context, addr string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", addr)
		}
	}
	return &Session{
		cfg:     cfg,
		logger:  logger.WithField("component", "fix_session"),
		wireLog: wireLog,
		reports: make(map[string]chan ExecReport),
	}
}

// Status returns the current connection state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Connect dials the broker, sends a logon and waits for the acknowledgment.
// Sequence numbers reset on every logon (ResetSeqNumFlag=Y).
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.status == StatusLoggedOn || s.status == StatusLoggingOn {
		s.mu.Unlock()
		return nil
	}
	s.status = StatusLoggingOn
	s.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()
	conn, err := s.cfg.Dialer(dialCtx, s.cfg.Address)
	if err != nil {
		s.setStatus(StatusDisconnected)
		return fmt.Errorf("failed to dial broker: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.seqOut = 1
	s.seqIn = 1
	s.lastInbound = time.Now()
	s.logonAck = make(chan struct{})
	s.done = make(chan struct{})
	ack := s.logonAck
	done := s.done

	logonFields := []Field{
		{TagEncryptMethod, "0"},
		{TagHeartBtInt, fmt.Sprintf("%d", int(s.cfg.HeartbeatInterval.Seconds()))},
		{TagRawData, s.cfg.Password},
		{TagResetSeqNumFlag, "Y"},
		{TagAccount, s.cfg.Account},
	}
	if s.cfg.Username != "" {
		logonFields = append(logonFields, Field{TagUsername, s.cfg.Username})
	}
	err = s.sendLocked(MsgLogon, logonFields...)
	s.mu.Unlock()
	if err != nil {
		s.teardown("logon send failed")
		return err
	}

	go s.readLoop(conn, done)

	select {
	case <-ack:
		s.setStatus(StatusLoggedOn)
		s.logger.Info("Session logged on", "address", s.cfg.Address)
		go s.heartbeatLoop(done)
		return nil
	case <-time.After(s.cfg.ConnectTimeout):
		s.teardown("logon timeout")
		return fmt.Errorf("logon not acknowledged within %s: %w", s.cfg.ConnectTimeout, core.ErrNotConnected)
	case <-ctx.Done():
		s.teardown("logon canceled")
		return ctx.Err()
	}
}

// Close logs out and tears the connection down.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.status == StatusDisconnected {
		s.mu.Unlock()
		return nil
	}
	s.status = StatusDisconnecting
	s.sendLocked(MsgLogout) // best effort
	s.mu.Unlock()

	s.teardown("logout")
	return nil
}

// RegisterOrder allocates the report channel for a client order id. Must
// be called before the order is sent so no report can be missed.
func (s *Session) RegisterOrder(clOrdID string) <-chan ExecReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan ExecReport, 4)
	s.reports[clOrdID] = ch
	return ch
}

// DeregisterOrder removes an order from in-flight tracking.
func (s *Session) DeregisterOrder(clOrdID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.reports, clOrdID)
}

// InFlight reports how many orders still await a terminal report.
func (s *Session) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reports)
}

// SendMarketOrder submits a market NewOrderSingle.
func (s *Session) SendMarketOrder(clOrdID, instrumentID, side, qty string) error {
	return s.sendLoggedOn(MsgNewOrderSingle,
		Field{TagClOrdID, clOrdID},
		Field{TagAccount, s.cfg.Account},
		Field{TagSymbol, instrumentID},
		Field{TagSide, side},
		Field{TagTransactTime, utcTimestamp(time.Now())},
		Field{TagOrderQty, qty},
		Field{TagOrdType, "1"}, // Market
		Field{TagTimeInForce, "1"},
	)
}

// SendStopOrder submits a stop NewOrderSingle, used for protective
// stop-loss orders after a fill.
func (s *Session) SendStopOrder(clOrdID, instrumentID, side, qty, stopPx string) error {
	return s.sendLoggedOn(MsgNewOrderSingle,
		Field{TagClOrdID, clOrdID},
		Field{TagAccount, s.cfg.Account},
		Field{TagSymbol, instrumentID},
		Field{TagSide, side},
		Field{TagTransactTime, utcTimestamp(time.Now())},
		Field{TagOrderQty, qty},
		Field{TagOrdType, "3"}, // Stop
		Field{TagPrice, stopPx},
		Field{TagStopPx, stopPx},
		Field{TagTimeInForce, "1"},
	)
}

// SendLimitOrder submits a limit NewOrderSingle, used for protective
// take-profit orders after a fill.
func (s *Session) SendLimitOrder(clOrdID, instrumentID, side, qty, price string) error {
	return s.sendLoggedOn(MsgNewOrderSingle,
		Field{TagClOrdID, clOrdID},
		Field{TagAccount, s.cfg.Account},
		Field{TagSymbol, instrumentID},
		Field{TagSide, side},
		Field{TagTransactTime, utcTimestamp(time.Now())},
		Field{TagOrderQty, qty},
		Field{TagOrdType, "2"}, // Limit
		Field{TagPrice, price},
		Field{TagTimeInForce, "1"},
	)
}

// AwaitReport blocks until the order reaches a terminal report, the
// timeout elapses, or ctx is canceled. On timeout the order is removed
// from in-flight tracking so the wait fires exactly once.
func (s *Session) AwaitReport(ctx context.Context, clOrdID string, ch <-chan ExecReport, timeout time.Duration) (ExecReport, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case report := <-ch:
			if report.Terminal() {
				s.DeregisterOrder(clOrdID)
				return report, nil
			}
			// Partial fill or acknowledgment: keep waiting.
		case <-deadline.C:
			s.DeregisterOrder(clOrdID)
			return ExecReport{}, ErrAwaitTimeout
		case <-ctx.Done():
			s.DeregisterOrder(clOrdID)
			return ExecReport{}, ctx.Err()
		}
	}
}

func (s *Session) setStatus(st Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = st
}

func (s *Session) sendLoggedOn(msgType string, body ...Field) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusLoggedOn {
		return core.ErrNotConnected
	}
	return s.sendLocked(msgType, body...)
}

// sendLocked stamps the header, assigns the outbound sequence number and
// writes the frame. Caller holds the lock.
func (s *Session) sendLocked(msgType string, body ...Field) error {
	if s.conn == nil {
		return core.ErrNotConnected
	}
	m := NewMessage(msgType)
	m.Append(TagSenderCompID, s.cfg.SenderCompID)
	if s.cfg.SenderSubID != "" {
		m.Append(TagSenderSubID, s.cfg.SenderSubID)
	}
	m.Append(TagTargetCompID, s.cfg.TargetCompID)
	m.AppendInt(TagMsgSeqNum, s.seqOut)
	m.Append(TagSendingTime, utcTimestamp(time.Now()))
	m.fields = append(m.fields, body...)

	raw := m.Encode()
	if _, err := s.conn.Write(raw); err != nil {
		return fmt.Errorf("failed to send %s: %w", msgType, err)
	}
	s.wireLog.Outbound(raw)
	s.seqOut++
	return nil
}

func (s *Session) readLoop(conn net.Conn, done chan struct{}) {
	parser := &Parser{}
	buf := make([]byte, 4096)
	for {
		select {
		case <-done:
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(time.Second))
		n, err := conn.Read(buf)
		if n > 0 {
			parser.Feed(buf[:n])
			for {
				msg, perr := parser.Next()
				if perr != nil {
					s.logger.Warn("Dropping malformed frame", "error", perr)
					continue
				}
				if msg == nil {
					break
				}
				s.handleMessage(msg)
			}
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-done:
			default:
				s.logger.Warn("Connection read failed", "error", err)
				s.teardown("connection lost")
			}
			return
		}
	}
}

func (s *Session) heartbeatLoop(done chan struct{}) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	grace := 2*s.cfg.HeartbeatInterval + 5*time.Second
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.mu.Lock()
			stale := time.Since(s.lastInbound) > grace
			if !stale && s.status == StatusLoggedOn {
				s.sendLocked(MsgHeartbeat)
			}
			s.mu.Unlock()
			if stale {
				s.logger.Error("Heartbeat lost, dropping session")
				s.teardown("session lost")
				return
			}
		}
	}
}

func (s *Session) handleMessage(msg *Message) {
	s.wireLog.Inbound(msg.Encode())

	s.mu.Lock()
	s.lastInbound = time.Now()
	if seq, ok := msg.GetInt(TagMsgSeqNum); ok {
		switch {
		case seq > s.seqIn:
			// Gap: ask for the missing range, then resume past it rather
			// than silently accepting.
			s.logger.Warn("Sequence gap", "expected", s.seqIn, "got", seq)
			s.sendLocked(MsgResendRequest,
				Field{TagBeginSeqNo, fmt.Sprintf("%d", s.seqIn)},
				Field{TagEndSeqNo, "0"},
			)
			s.seqIn = seq + 1
		case seq < s.seqIn:
			s.mu.Unlock()
			return // duplicate, already processed
		default:
			s.seqIn++
		}
	}
	s.mu.Unlock()

	switch msg.MsgType() {
	case MsgLogon:
		s.mu.Lock()
		if s.logonAck != nil {
			select {
			case <-s.logonAck:
			default:
				close(s.logonAck)
			}
		}
		s.mu.Unlock()

	case MsgHeartbeat:
		// lastInbound already refreshed

	case MsgTestRequest:
		s.mu.Lock()
		if id, ok := msg.Get(TagTestReqID); ok {
			s.sendLocked(MsgHeartbeat, Field{TagTestReqID, id})
		} else {
			s.sendLocked(MsgHeartbeat)
		}
		s.mu.Unlock()

	case MsgExecutionReport:
		s.routeReport(msg)

	case MsgReject:
		text, _ := msg.Get(TagText)
		refType, _ := msg.Get(TagRefMsgType)
		s.logger.Error("Message rejected by broker", "reason", text, "ref_msg_type", refType)

	case MsgLogout:
		text, _ := msg.Get(TagText)
		s.logger.Warn("Logout received", "reason", text)
		s.teardown("logout received")

	default:
		s.logger.Debug("Ignoring message", "msg_type", msg.MsgType())
	}
}

func (s *Session) routeReport(msg *Message) {
	clOrdID, ok := msg.Get(TagClOrdID)
	if !ok {
		return
	}
	report := ExecReport{ClOrdID: clOrdID}
	report.OrderID, _ = msg.Get(TagOrderID)
	report.ExecType, _ = msg.Get(TagExecType)
	report.OrdStatus, _ = msg.Get(TagOrdStatus)
	report.Text, _ = msg.Get(TagText)
	if v, ok := msg.Get(TagPrice); ok {
		report.Price, _ = decimal.NewFromString(v)
	}
	if v, ok := msg.Get(TagLastQty); ok {
		report.Qty, _ = decimal.NewFromString(v)
	}

	s.mu.Lock()
	ch := s.reports[clOrdID]
	s.mu.Unlock()
	if ch == nil {
		s.logger.Warn("Execution report for unknown order", "cl_ord_id", clOrdID)
		return
	}
	select {
	case ch <- report:
	default:
		s.logger.Warn("Report channel full", "cl_ord_id", clOrdID)
	}
}

// teardown drops the connection and fails every in-flight order with a
// terminal "session lost" report so no wait is left ambiguous.
func (s *Session) teardown(reason string) {
	s.mu.Lock()
	if s.status == StatusDisconnected {
		s.mu.Unlock()
		return
	}
	s.status = StatusDisconnected
	if s.done != nil {
		select {
		case <-s.done:
		default:
			close(s.done)
		}
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	pending := s.reports
	s.reports = make(map[string]chan ExecReport)
	s.mu.Unlock()

	for clOrdID, ch := range pending {
		select {
		case ch <- ExecReport{ClOrdID: clOrdID, OrdStatus: OrdStatusRejected, Text: "session lost"}:
		default:
		}
	}
	s.logger.Warn("Session disconnected", "reason", reason, "invalidated_orders", len(pending))
}

func utcTimestamp(t time.Time) string {
	return t.UTC().Format("20060102-15:04:05.000")
}
