// Package ui defines the status contract between the supervision core and
// whatever presentation layer consumes it.
package ui

import "sync"

// Status is the coarse user-visible state, derived from the lifecycle
// state and the presence of an active diagnostic.
type Status int

const (
	// StatusLoading means the client is starting or awaiting a verdict.
	StatusLoading Status = iota
	// StatusStopped means no engine is attached.
	StatusStopped
	// StatusPassed means the latest diagnostics round had no engine error.
	StatusPassed
	// StatusFailed means an engine error is currently active.
	StatusFailed
)

// String returns a human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusStopped:
		return "stopped"
	case StatusPassed:
		return "passed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StatusSink consumes status updates. Implementations must be idempotent
// to repeated identical values and must never block.
type StatusSink interface {
	SetStatus(Status)
}

// StatusFunc adapts a function to the StatusSink interface.
type StatusFunc func(Status)

// SetStatus implements StatusSink.
func (f StatusFunc) SetStatus(s Status) { f(s) }

// Dedup wraps a StatusSink and suppresses repeated identical values, so
// inner sinks observe each status change exactly once. Safe for concurrent
// use.
type Dedup struct {
	mu    sync.Mutex
	inner StatusSink
	last  Status
	seen  bool
}

// NewDedup creates a deduplicating wrapper around sink.
func NewDedup(sink StatusSink) *Dedup {
	return &Dedup{inner: sink}
}

// SetStatus forwards s only if it differs from the previous value.
func (d *Dedup) SetStatus(s Status) {
	d.mu.Lock()
	if d.seen && d.last == s {
		d.mu.Unlock()
		return
	}
	d.seen = true
	d.last = s
	d.mu.Unlock()

	d.inner.SetStatus(s)
}
