// Package execution carries order intents to terminal outcomes, live over
// the broker session or simulated in dry-run mode.
package execution

import (
	"fmt"
	"strconv"
	"strings"
)

// instrumentIDs maps human-readable symbols to the broker's numeric
// instrument identifiers. Read-only after initialization; an unmapped
// symbol is a configuration error surfaced at startup, never retried.
var instrumentIDs = map[string]int{
	"EURUSD": 1,
	"GBPUSD": 2,
	"EURJPY": 3,
	"USDJPY": 4,
	"AUDUSD": 5,
	"USDCHF": 6,
	"GBPJPY": 7,
	"USDCAD": 8,
	"EURGBP": 9,
	"EURCHF": 10,
	"AUDJPY": 11,
	"NZDUSD": 12,
	"CHFJPY": 13,
	"EURAUD": 14,
	"XAUUSD": 41,
	"XAGUSD": 42,
	"BTCUSD": 101,
	"ETHUSD": 102,
	"LTCUSD": 103,
}

// InstrumentID returns the broker's numeric id for a symbol as it appears
// on the wire.
func InstrumentID(symbol string) (string, error) {
	id, ok := instrumentIDs[symbol]
	if !ok {
		return "", fmt.Errorf("no instrument id mapped for symbol %s", symbol)
	}
	return strconv.Itoa(id), nil
}

// ValidateSymbols verifies every configured symbol is mapped. Called once
// at startup so a bad symbol list fails fast, before any cycle runs.
func ValidateSymbols(symbols []string) error {
	var missing []string
	for _, s := range symbols {
		if _, ok := instrumentIDs[s]; !ok {
			missing = append(missing, s)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("unmapped symbols: %s", strings.Join(missing, ", "))
	}
	return nil
}
