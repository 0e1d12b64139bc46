package storage

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"agent-sentinel/internal/alerting"
	"agent-sentinel/internal/schema"
)

// BatchConfig holds configuration for batched inserts.
type BatchConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
}

// DefaultBatchConfig returns the default batch configuration.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		BatchSize:     1000,
		FlushInterval: 5 * time.Second,
		MaxRetries:    3,
		RetryDelay:    time.Second,
	}
}

// ClickHouseSink batches events, issues, and alerts into ClickHouse.
// A table buffer flushes when it reaches BatchSize or on the shared
// flush timer.
type ClickHouseSink struct {
	client *ClickHouseClient
	config BatchConfig
	logger *slog.Logger

	mu     sync.Mutex
	events []*schema.LogEvent
	issues []*schema.SecurityIssue
	alerts []*alerting.Alert
	closed bool

	flushTimer *time.Timer

	totalWritten uint64
	totalFailed  uint64
}

// NewClickHouseSink creates a sink backed by the given client.
func NewClickHouseSink(client *ClickHouseClient, cfg BatchConfig, logger *slog.Logger) *ClickHouseSink {
	def := DefaultBatchConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &ClickHouseSink{
		client: client,
		config: cfg,
		logger: logger,
	}
	s.flushTimer = time.AfterFunc(cfg.FlushInterval, s.timerFlush)
	return s
}

func (s *ClickHouseSink) WriteEvent(event *schema.LogEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.events = append(s.events, event)
	if len(s.events) >= s.config.BatchSize {
		return s.flushEventsLocked()
	}
	return nil
}

func (s *ClickHouseSink) WriteIssue(issue *schema.SecurityIssue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.issues = append(s.issues, issue)
	if len(s.issues) >= s.config.BatchSize {
		return s.flushIssuesLocked()
	}
	return nil
}

func (s *ClickHouseSink) WriteAlert(alert *alerting.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.alerts = append(s.alerts, alert)
	if len(s.alerts) >= s.config.BatchSize {
		return s.flushAlertsLocked()
	}
	return nil
}

func (s *ClickHouseSink) timerFlush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if err := s.flushAllLocked(); err != nil {
		s.logger.Error("timer flush failed", slog.String("error", err.Error()))
	}
	s.flushTimer.Reset(s.config.FlushInterval)
}

// Flush forces all buffers out.
func (s *ClickHouseSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushAllLocked()
}

func (s *ClickHouseSink) flushAllLocked() error {
	var firstErr error
	for _, flush := range []func() error{
		s.flushEventsLocked,
		s.flushIssuesLocked,
		s.flushAlertsLocked,
	} {
		if err := flush(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close flushes remaining buffers and stops the timer.
func (s *ClickHouseSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	err := s.flushAllLocked()
	s.closed = true
	s.flushTimer.Stop()
	return err
}

// withRetries runs the insert with the configured retry policy.
func (s *ClickHouseSink) withRetries(table string, count int, insert func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(s.config.RetryDelay * time.Duration(attempt))
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := insert(ctx)
		cancel()
		if err == nil {
			atomic.AddUint64(&s.totalWritten, uint64(count))
			return nil
		}
		lastErr = err
		s.logger.Warn("batch insert failed, retrying",
			slog.String("table", table),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()))
	}
	atomic.AddUint64(&s.totalFailed, uint64(count))
	return WrapInsertError("Flush", table, lastErr)
}

func (s *ClickHouseSink) flushEventsLocked() error {
	if len(s.events) == 0 {
		return nil
	}
	events := s.events
	s.events = nil
	return s.withRetries("log_events", len(events), func(ctx context.Context) error {
		batch, err := s.client.PrepareBatch(ctx, `
			INSERT INTO log_events (id, message, level, source, metadata, ingested_at)
		`)
		if err != nil {
			return err
		}
		for _, e := range events {
			metadata, _ := json.Marshal(e.Metadata)
			if err := batch.Append(
				e.ID,
				e.Message,
				string(e.Level),
				e.Source,
				string(metadata),
				e.IngestedAt,
			); err != nil {
				return err
			}
		}
		return batch.Send()
	})
}

func (s *ClickHouseSink) flushIssuesLocked() error {
	if len(s.issues) == 0 {
		return nil
	}
	issues := s.issues
	s.issues = nil
	return s.withRetries("security_issues", len(issues), func(ctx context.Context) error {
		batch, err := s.client.PrepareBatch(ctx, `
			INSERT INTO security_issues (
				issue_type, category, threat_level, confidence, evidence,
				description, suggested_action, source_event_id, source,
				detected_by, detected_at
			)
		`)
		if err != nil {
			return err
		}
		for _, i := range issues {
			if err := batch.Append(
				i.IssueType,
				string(i.Category),
				string(i.ThreatLevel),
				i.Confidence,
				i.Evidence,
				i.Description,
				i.SuggestedAction,
				i.SourceEventID,
				i.Source,
				string(i.DetectedBy),
				i.DetectedAt,
			); err != nil {
				return err
			}
		}
		return batch.Send()
	})
}

func (s *ClickHouseSink) flushAlertsLocked() error {
	if len(s.alerts) == 0 {
		return nil
	}
	alerts := s.alerts
	s.alerts = nil
	return s.withRetries("alerts", len(alerts), func(ctx context.Context) error {
		batch, err := s.client.PrepareBatch(ctx, `
			INSERT INTO alerts (
				id, title, message, severity, status, suppress_reason,
				source, issue_type, category, threat_level, confidence,
				source_event_id, created_at
			)
		`)
		if err != nil {
			return err
		}
		for _, a := range alerts {
			if err := batch.Append(
				a.ID.String(),
				a.Title,
				a.Message,
				string(a.Severity),
				string(a.Status),
				string(a.SuppressReason),
				a.Source,
				a.IssueType,
				string(a.Category),
				string(a.ThreatLevel),
				a.Confidence,
				a.SourceEventID,
				a.CreatedAt,
			); err != nil {
				return err
			}
		}
		return batch.Send()
	})
}

// Metrics holds sink statistics.
type Metrics struct {
	Written uint64 `json:"written"`
	Failed  uint64 `json:"failed"`
}

// Metrics returns sink statistics.
func (s *ClickHouseSink) Metrics() Metrics {
	return Metrics{
		Written: atomic.LoadUint64(&s.totalWritten),
		Failed:  atomic.LoadUint64(&s.totalFailed),
	}
}
