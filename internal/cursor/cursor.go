// Package cursor keeps the poller's high-water mark: the newest notification
// update time the pipeline has fully handled.
package cursor

import (
	"context"
	"sync"
	"time"
)

// Cursor is monotonic: Advance never moves it back.
type Cursor interface {
	Load(ctx context.Context) (time.Time, error)
	// Advance moves the cursor to t if t is later and returns the value it
	// holds afterwards.
	Advance(ctx context.Context, t time.Time) (time.Time, error)
}

// Memory is a process-local cursor. It starts at the zero time, so a fresh
// process sees the whole unread feed once.
type Memory struct {
	mu sync.Mutex
	at time.Time
}

func NewMemory(start time.Time) *Memory {
	return &Memory{at: start}
}

func (m *Memory) Load(context.Context) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.at, nil
}

func (m *Memory) Advance(_ context.Context, t time.Time) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.After(m.at) {
		m.at = t
	}
	return m.at, nil
}
