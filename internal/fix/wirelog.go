package fix

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// WireLog is a per-day append-only record of every protocol message
// exchanged, one line per message, for audit and replay. Write failures
// are swallowed: the audit trail must never block trading.
type WireLog struct {
	mu   sync.Mutex
	dir  string
	day  string
	file *os.File
}

// NewWireLog creates a wire log writing under dir.
func NewWireLog(dir string) (*WireLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create wire log directory: %w", err)
	}
	return &WireLog{dir: dir}, nil
}

// Outbound records a message sent to the broker.
func (w *WireLog) Outbound(raw []byte) { w.write("OUT", raw) }

// Inbound records a message received from the broker.
func (w *WireLog) Inbound(raw []byte) { w.write("IN ", raw) }

func (w *WireLog) write(dir string, raw []byte) {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now().UTC()
	if day := now.Format("20060102"); day != w.day || w.file == nil {
		if w.file != nil {
			w.file.Close()
		}
		path := filepath.Join(w.dir, fmt.Sprintf("fix_%s.log", day))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return
		}
		w.day = day
		w.file = f
	}

	line := strings.ReplaceAll(string(raw), SOH, "|")
	fmt.Fprintf(w.file, "%s %s %s\n", now.Format("15:04:05.000"), dir, line)
}

// Close releases the underlying file.
func (w *WireLog) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
