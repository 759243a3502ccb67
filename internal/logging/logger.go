// Package logging provides leveled logging and decision tracing for poseidon.
// It offers two complementary outputs:
//   - A leveled slog.Logger for stderr (operational output)
//   - A DecisionLogger for structured JSONL traces of agent adaptation
//     decisions (<dir>/decisions.jsonl)
package logging

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LevelTrace is a custom slog level below Debug. At this level every fired
// scheduler action is logged.
const LevelTrace = slog.LevelDebug - 4

// ParseLevel maps a string level name to a slog.Level.
// Supported values: "info", "debug", "trace" (case-insensitive).
// Unknown values default to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "trace":
		return LevelTrace
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a leveled text slog.Logger writing to w.
func NewLogger(level string, w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, handlerOptions(level)))
}

// NewJSONLogger creates a leveled slog.Logger emitting one JSON object per line.
func NewJSONLogger(level string, w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, handlerOptions(level)))
}

func handlerOptions(level string) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level: ParseLevel(level),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}
}

// Decision is one adaptation decision taken by one agent.
type Decision struct {
	Run       string  `json:"run,omitempty"`
	Step      int     `json:"step"`
	Agent     string  `json:"agent"`
	Attribute string  `json:"attribute"`
	Status    string  `json:"status"`
	Value     string  `json:"value"`
	Fitness   float64 `json:"fitness"`
}

// DecisionLogger writes adaptation decisions to a JSONL file.
// It is safe for concurrent use. A nil DecisionLogger is safe to use;
// all methods are no-ops on nil receiver.
type DecisionLogger struct {
	mu   sync.Mutex
	file *os.File
	now  func() time.Time
}

// NewDecisionLogger creates a decision logger writing to dir/decisions.jsonl.
// At "info" level (the default), returns nil and no file is created.
// At "debug" or "trace" level, the file is opened for append.
// Returns nil if the file cannot be opened. All methods are nil-safe.
func NewDecisionLogger(dir string, level string) *DecisionLogger {
	if ParseLevel(level) == slog.LevelInfo || dir == "" {
		return nil
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil
	}

	path := filepath.Join(dir, "decisions.jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil
	}

	return &DecisionLogger{file: f, now: time.Now}
}

// LogDecision writes d as a single JSONL line with a wall-clock "time" field.
// Non-finite fitness values are written as null.
// Safe to call on nil receiver.
func (dl *DecisionLogger) LogDecision(d Decision) {
	if dl == nil {
		return
	}
	entry := map[string]any{
		"step":      d.Step,
		"agent":     d.Agent,
		"attribute": d.Attribute,
		"status":    d.Status,
		"value":     d.Value,
		"fitness":   finiteOrNil(d.Fitness),
	}
	if d.Run != "" {
		entry["run"] = d.Run
	}
	dl.Log(entry)
}

// Log writes an arbitrary event as a single JSONL line.
// A "time" field is added automatically. The caller's map is not mutated.
// Safe to call on nil receiver.
func (dl *DecisionLogger) Log(event map[string]any) {
	if dl == nil {
		return
	}

	entry := make(map[string]any, len(event)+1)
	for k, v := range event {
		entry[k] = v
	}

	dl.mu.Lock()
	defer dl.mu.Unlock()

	if dl.file == nil {
		return
	}
	entry["time"] = dl.now().UTC().Format(time.RFC3339Nano)

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	data = append(data, '\n')
	_, _ = dl.file.Write(data)
}

// Close closes the underlying file. Safe to call on nil receiver.
func (dl *DecisionLogger) Close() {
	if dl == nil {
		return
	}

	dl.mu.Lock()
	defer dl.mu.Unlock()

	if dl.file != nil {
		dl.file.Close()
		dl.file = nil
	}
}

// finiteOrNil keeps NaN and infinities out of the JSON encoder, which rejects them.
func finiteOrNil(f float64) any {
	if f != f || f > maxFloat || f < -maxFloat {
		return nil
	}
	return f
}

const maxFloat = 1.7976931348623157e308
