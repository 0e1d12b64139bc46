package storage

import (
	"context"
	"sync"

	"agent-sentinel/internal/alerting"
	"agent-sentinel/internal/schema"
)

// Sink receives the pipeline's durable writes. Writes are buffered;
// Flush forces them out. Implementations must be safe for concurrent
// use.
type Sink interface {
	WriteEvent(event *schema.LogEvent) error
	WriteIssue(issue *schema.SecurityIssue) error
	WriteAlert(alert *alerting.Alert) error
	Flush(ctx context.Context) error
	Close() error
}

// MemorySink keeps writes in memory. Used in development mode and in
// tests; also the fallback when no ClickHouse is configured.
type MemorySink struct {
	mu     sync.RWMutex
	events []*schema.LogEvent
	issues []*schema.SecurityIssue
	alerts []*alerting.Alert
	closed bool
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) WriteEvent(event *schema.LogEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.events = append(s.events, event)
	return nil
}

func (s *MemorySink) WriteIssue(issue *schema.SecurityIssue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.issues = append(s.issues, issue)
	return nil
}

func (s *MemorySink) WriteAlert(alert *alerting.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.alerts = append(s.alerts, alert)
	return nil
}

func (s *MemorySink) Flush(context.Context) error { return nil }

func (s *MemorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Events returns a snapshot of stored events.
func (s *MemorySink) Events() []*schema.LogEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*schema.LogEvent, len(s.events))
	copy(out, s.events)
	return out
}

// Issues returns a snapshot of stored issues.
func (s *MemorySink) Issues() []*schema.SecurityIssue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*schema.SecurityIssue, len(s.issues))
	copy(out, s.issues)
	return out
}

// Alerts returns a snapshot of stored alerts.
func (s *MemorySink) Alerts() []*alerting.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*alerting.Alert, len(s.alerts))
	copy(out, s.alerts)
	return out
}
