package core

import (
	"errors"
	"fmt"
)

// Sizing rejection kinds. Each rejection short-circuits before an
// OrderIntent is constructed; upstream treats them like HOLD, not failures.
var (
	ErrDailyLossLimit   = errors.New("daily loss limit reached")
	ErrWeeklyLossLimit  = errors.New("weekly loss limit reached")
	ErrMaxOpenPositions = errors.New("maximum open positions reached")
	ErrZeroSize         = errors.New("computed size rounds to zero")
	ErrVolatilityBand   = errors.New("volatility outside acceptable band")
	ErrHoldDecision     = errors.New("decision direction is HOLD")
)

// Data and session errors.
var (
	ErrDataUnavailable = errors.New("market data unavailable")
	ErrSessionLost     = errors.New("session lost")
	ErrNotConnected    = errors.New("session not connected")
)

// SizingRejection wraps a rejection kind with detail. It unwraps to the
// sentinel so callers can branch with errors.Is.
type SizingRejection struct {
	Kind   error
	Detail string
}

func (r *SizingRejection) Error() string {
	if r.Detail == "" {
		return r.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", r.Kind.Error(), r.Detail)
}

func (r *SizingRejection) Unwrap() error { return r.Kind }

// NewSizingRejection builds a rejection with formatted detail.
func NewSizingRejection(kind error, format string, args ...interface{}) *SizingRejection {
	return &SizingRejection{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// IsSizingRejection reports whether err is a structured no-trade outcome.
func IsSizingRejection(err error) bool {
	var r *SizingRejection
	return errors.As(err, &r)
}
