package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

// Call is one logged exchange with the model.
type Call struct {
	Time       time.Time `json:"time"`
	Kind       string    `json:"kind"`
	Model      string    `json:"model"`
	Prompt     string    `json:"prompt"`
	Response   string    `json:"response,omitempty"`
	Script     string    `json:"script,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms"`
}

// CallLog appends calls to a writer as JSON lines.
type CallLog struct {
	mu sync.Mutex
	w  io.Writer
}

func NewCallLog(w io.Writer) *CallLog {
	return &CallLog{w: w}
}

func (l *CallLog) Record(c Call) error {
	line, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode call: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.w.Write(line); err != nil {
		return fmt.Errorf("failed to write call log: %w", err)
	}
	return nil
}

type callLogKey struct{}

// WithCallLog returns a context whose model calls are recorded to l.
func WithCallLog(ctx context.Context, l *CallLog) context.Context {
	return context.WithValue(ctx, callLogKey{}, l)
}

func callLogFrom(ctx context.Context) *CallLog {
	l, _ := ctx.Value(callLogKey{}).(*CallLog)
	return l
}
