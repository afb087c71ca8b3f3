package alert

import (
	"context"
	"strings"
	"sync"
	"time"

	"fx_trader/internal/core"
)

// Channel delivers one rendered message to a destination.
type Channel interface {
	Send(ctx context.Context, text string) error
	Name() string
}

// Notifier renders pipeline events and fans them out to every registered
// channel. Delivery is asynchronous and failures are logged, never
// propagated: notifications must not slow down or fail order processing.
// A Notifier with no channels is a valid no-op.
type Notifier struct {
	mu       sync.RWMutex
	channels []Channel
	logger   core.ILogger
}

// NewNotifier creates a notifier with no channels attached.
func NewNotifier(logger core.ILogger) *Notifier {
	return &Notifier{
		logger: logger.WithField("component", "notifier"),
	}
}

// AddChannel registers a delivery channel.
func (n *Notifier) AddChannel(ch Channel) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.channels = append(n.channels, ch)
	n.logger.Info("Added notification channel", "name", ch.Name())
}

// TradeSignal announces a sized, not-yet-submitted order.
func (n *Notifier) TradeSignal(ctx context.Context, decision core.ConfluenceDecision, intent core.OrderIntent) {
	var b strings.Builder
	icon := "🟢"
	if intent.Direction == core.Sell {
		icon = "🔴"
	}
	b.WriteString(icon + " *" + string(intent.Direction) + " " + intent.Symbol + "*\n")
	b.WriteString("\nEntry: " + intent.EntryPrice.String())
	b.WriteString("\nStop loss: " + intent.StopLoss.String())
	b.WriteString("\nTake profit: " + intent.TakeProfit.String())
	b.WriteString("\nSize: " + intent.Size.String() + " lots")
	b.WriteString("\nRisk/reward: " + intent.RiskReward.StringFixed(2))
	if len(decision.Reasons) > 0 {
		b.WriteString("\n\nConfluence:")
		for _, r := range decision.Reasons {
			b.WriteString("\n- " + r.Description)
		}
	}
	n.dispatch(ctx, b.String())
}

// ExecutionResult announces the terminal outcome of a submission.
func (n *Notifier) ExecutionResult(ctx context.Context, intent core.OrderIntent, outcome core.ExecutionOutcome) {
	var b strings.Builder
	switch outcome.Kind {
	case core.OutcomeFilled:
		b.WriteString("✅ *Filled " + intent.Symbol + "*\n")
		b.WriteString("\nFill price: " + outcome.FillPrice.String())
		if outcome.SlippageExceeded {
			b.WriteString("\n⚠️ Slippage above tolerance")
		}
	case core.OutcomeSimulated:
		b.WriteString("📋 *Dry run " + intent.Symbol + "*\n")
		b.WriteString("\nWould " + strings.ToLower(string(intent.Direction)) + " " + intent.Size.String() + " lots at " + intent.EntryPrice.String())
	case core.OutcomeTimedOut:
		b.WriteString("⏱ *No fill report for " + intent.Symbol + "*\n")
		b.WriteString("\nOrder " + outcome.OrderID + " abandoned; verify broker state manually")
	default:
		b.WriteString("❌ *Rejected " + intent.Symbol + "*\n")
		b.WriteString("\n" + outcome.Reason)
	}
	n.dispatch(ctx, b.String())
}

// NoTrade announces a skipped symbol with the reason it was skipped.
func (n *Notifier) NoTrade(ctx context.Context, symbol, reason string) {
	n.dispatch(ctx, "💤 *"+symbol+"*: "+reason)
}

// Event announces a free-form operational event.
func (n *Notifier) Event(ctx context.Context, title, message string) {
	n.dispatch(ctx, "ℹ️ *"+title+"*\n\n"+message)
}

func (n *Notifier) dispatch(ctx context.Context, text string) {
	n.mu.RLock()
	channels := make([]Channel, len(n.channels))
	copy(channels, n.channels)
	n.mu.RUnlock()

	for _, ch := range channels {
		go func(c Channel) {
			timeoutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			if err := c.Send(timeoutCtx, text); err != nil {
				n.logger.Error("Failed to send notification", "channel", c.Name(), "error", err)
			}
		}(ch)
	}
}
