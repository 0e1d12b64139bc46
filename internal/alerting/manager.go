// Package alerting turns detected security issues into managed alerts
// and fans them out to notification channels.
package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"agent-sentinel/internal/schema"

	"github.com/google/uuid"
)

// Severity is the alert severity derived from an issue's threat level.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// SeverityForThreat maps a threat level to its alert severity.
func SeverityForThreat(level schema.ThreatLevel) Severity {
	switch level {
	case schema.ThreatCritical:
		return SeverityCritical
	case schema.ThreatHigh:
		return SeverityError
	case schema.ThreatMedium:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// Status tracks an alert through its lifecycle. Suppressed is terminal
// and assigned only at creation; live alerts move pending -> sent ->
// acknowledged.
type Status string

const (
	StatusPending      Status = "pending"
	StatusSent         Status = "sent"
	StatusAcknowledged Status = "acknowledged"
	StatusSuppressed   Status = "suppressed"
)

// SuppressReason records why an alert was suppressed at creation.
type SuppressReason string

const (
	SuppressNone     SuppressReason = ""
	SuppressCooldown SuppressReason = "cooldown"
	SuppressRateCap  SuppressReason = "rate_cap"
)

// Alert is a managed alert.
type Alert struct {
	ID             uuid.UUID          `json:"id"`
	Title          string             `json:"title"`
	Message        string             `json:"message"`
	Severity       Severity           `json:"severity"`
	Status         Status             `json:"status"`
	SuppressReason SuppressReason     `json:"suppress_reason,omitempty"`
	Source         string             `json:"source"`
	IssueType      string             `json:"issue_type"`
	Category       schema.Category    `json:"category"`
	ThreatLevel    schema.ThreatLevel `json:"threat_level"`
	Confidence     float64            `json:"confidence"`
	SourceEventID  int64              `json:"source_event_id"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
	SentAt         *time.Time         `json:"sent_at,omitempty"`
	AckedAt        *time.Time         `json:"acked_at,omitempty"`
	AckedBy        string             `json:"acked_by,omitempty"`
}

// Live reports whether the alert should be delivered to channels.
func (a *Alert) Live() bool { return a.Status != StatusSuppressed }

// clone returns an independent copy. The manager hands out clones so
// callers can read and serialize them without holding its lock while
// delivery mutates the stored records.
func (a *Alert) clone() *Alert {
	c := *a
	if a.SentAt != nil {
		t := *a.SentAt
		c.SentAt = &t
	}
	if a.AckedAt != nil {
		t := *a.AckedAt
		c.AckedAt = &t
	}
	return &c
}

// ManagerConfig configures the alert manager. The windows are
// configurable so tests can run with short durations.
type ManagerConfig struct {
	CooldownWindow     time.Duration
	RateWindow         time.Duration
	MaxAlertsPerWindow int
	MaxAlerts          int
}

// DefaultManagerConfig returns default manager configuration.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		CooldownWindow:     5 * time.Minute,
		RateWindow:         time.Hour,
		MaxAlertsPerWindow: 100,
		MaxAlerts:          100000,
	}
}

// Manager owns the alert store, the cooldown table, and the per-source
// rate accounting. Safe for concurrent use.
type Manager struct {
	config ManagerConfig
	logger *slog.Logger

	mu       sync.RWMutex
	alerts   map[uuid.UUID]*Alert
	ordered  []*Alert             // creation order, oldest first
	cooldown map[string]time.Time // source+issue_type -> last live alert
	rate     map[string][]time.Time

	suppressedCooldown uint64
	suppressedRate     uint64
}

// NewManager creates a new alert manager.
func NewManager(config ManagerConfig, logger *slog.Logger) *Manager {
	def := DefaultManagerConfig()
	if config.CooldownWindow <= 0 {
		config.CooldownWindow = def.CooldownWindow
	}
	if config.RateWindow <= 0 {
		config.RateWindow = def.RateWindow
	}
	if config.MaxAlertsPerWindow <= 0 {
		config.MaxAlertsPerWindow = def.MaxAlertsPerWindow
	}
	if config.MaxAlerts <= 0 {
		config.MaxAlerts = def.MaxAlerts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		config:   config,
		logger:   logger,
		alerts:   make(map[uuid.UUID]*Alert),
		cooldown: make(map[string]time.Time),
		rate:     make(map[string][]time.Time),
	}
}

func cooldownKey(source, issueType string) string {
	return source + ":" + issueType
}

// Process creates one alert per issue, applying cooldown suppression
// and the per-source rate cap. All alerts, suppressed included, are
// recorded and returned as creation-time snapshots; callers dispatch
// the live ones by ID.
func (m *Manager) Process(issues []*schema.SecurityIssue) []*Alert {
	if len(issues) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	alerts := make([]*Alert, 0, len(issues))
	for _, issue := range issues {
		alert := m.buildAlert(issue, now)

		// Cooldown comes first: a repeat inside the window is
		// suppressed without consuming rate budget.
		key := cooldownKey(issue.Source, issue.IssueType)
		if last, ok := m.cooldown[key]; ok && now.Sub(last) < m.config.CooldownWindow {
			alert.Status = StatusSuppressed
			alert.SuppressReason = SuppressCooldown
			m.suppressedCooldown++
		} else if !m.withinRateCap(issue.Source, now) {
			alert.Status = StatusSuppressed
			alert.SuppressReason = SuppressRateCap
			m.suppressedRate++
		} else {
			m.cooldown[key] = now
			m.rate[issue.Source] = append(m.rate[issue.Source], now)
		}

		m.store(alert)
		alerts = append(alerts, alert.clone())

		if !alert.Live() {
			m.logger.Debug("alert suppressed",
				slog.String("source", issue.Source),
				slog.String("issue_type", issue.IssueType),
				slog.String("reason", string(alert.SuppressReason)))
		}
	}
	return alerts
}

func (m *Manager) buildAlert(issue *schema.SecurityIssue, now time.Time) *Alert {
	return &Alert{
		ID:            uuid.New(),
		Title:         fmt.Sprintf("[%s] %s from %s", issue.ThreatLevel, issue.IssueType, issue.Source),
		Message:       issue.Description,
		Severity:      SeverityForThreat(issue.ThreatLevel),
		Status:        StatusPending,
		Source:        issue.Source,
		IssueType:     issue.IssueType,
		Category:      issue.Category,
		ThreatLevel:   issue.ThreatLevel,
		Confidence:    issue.Confidence,
		SourceEventID: issue.SourceEventID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// withinRateCap reports whether the source has budget left in the
// current window, pruning expired entries as a side effect. Caller
// holds the lock.
func (m *Manager) withinRateCap(source string, now time.Time) bool {
	window := m.rate[source]
	cutoff := now.Add(-m.config.RateWindow)
	kept := window[:0]
	for _, t := range window {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	m.rate[source] = kept
	return len(kept) < m.config.MaxAlertsPerWindow
}

// store records the alert, dropping the oldest when over MaxAlerts.
// Caller holds the lock.
func (m *Manager) store(alert *Alert) {
	m.alerts[alert.ID] = alert
	m.ordered = append(m.ordered, alert)
	if len(m.ordered) > m.config.MaxAlerts {
		evicted := m.ordered[0]
		m.ordered = m.ordered[1:]
		delete(m.alerts, evicted.ID)
	}
}

// Get retrieves a snapshot of an alert by ID.
func (m *Manager) Get(id uuid.UUID) (*Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	alert, ok := m.alerts[id]
	if !ok {
		return nil, &schema.NotFoundError{Kind: "alert", ID: id.String()}
	}
	return alert.clone(), nil
}

// MarkSent records channel delivery for a pending alert. Alerts in any
// other state are left unchanged.
func (m *Manager) MarkSent(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	alert, ok := m.alerts[id]
	if !ok {
		return &schema.NotFoundError{Kind: "alert", ID: id.String()}
	}
	if alert.Status != StatusPending {
		return nil
	}
	now := time.Now().UTC()
	alert.Status = StatusSent
	alert.SentAt = &now
	alert.UpdatedAt = now
	return nil
}

// Acknowledge moves a pending or sent alert to acknowledged. Repeat
// acknowledgement is a no-op; acknowledging a suppressed alert is an
// error.
func (m *Manager) Acknowledge(id uuid.UUID, user string) (*Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	alert, ok := m.alerts[id]
	if !ok {
		return nil, &schema.NotFoundError{Kind: "alert", ID: id.String()}
	}
	switch alert.Status {
	case StatusAcknowledged:
		return alert.clone(), nil
	case StatusSuppressed:
		return nil, fmt.Errorf("alert %s is suppressed and cannot be acknowledged", id)
	}
	now := time.Now().UTC()
	alert.Status = StatusAcknowledged
	alert.AckedAt = &now
	alert.AckedBy = user
	alert.UpdatedAt = now
	return alert.clone(), nil
}

// Filter selects alerts for List.
type Filter struct {
	Severity Severity
	Status   Status
	Source   string
	Limit    int
}

func (f *Filter) matches(alert *Alert) bool {
	if f.Severity != "" && alert.Severity != f.Severity {
		return false
	}
	if f.Status != "" && alert.Status != f.Status {
		return false
	}
	if f.Source != "" && alert.Source != f.Source {
		return false
	}
	return true
}

// List returns matching alerts, most recent first.
func (m *Manager) List(filter Filter) []*Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []*Alert
	for i := len(m.ordered) - 1; i >= 0; i-- {
		alert := m.ordered[i]
		if !filter.matches(alert) {
			continue
		}
		results = append(results, alert.clone())
		if filter.Limit > 0 && len(results) == filter.Limit {
			break
		}
	}
	// Creation order already gives newest-first, but equal timestamps
	// from a single Process batch keep their batch order; make the
	// contract explicit.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})
	return results
}

// Stats summarizes the alert store.
type Stats struct {
	Total              int              `json:"total"`
	BySeverity         map[Severity]int `json:"by_severity"`
	ByStatus           map[Status]int   `json:"by_status"`
	SuppressedCooldown uint64           `json:"suppressed_cooldown"`
	SuppressedRateCap  uint64           `json:"suppressed_rate_cap"`
	CreatedLastWindow  int              `json:"created_last_window"`
}

// Stats returns alert statistics, including a rolling count of live
// alerts created within the rate window.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		BySeverity:         make(map[Severity]int),
		ByStatus:           make(map[Status]int),
		SuppressedCooldown: m.suppressedCooldown,
		SuppressedRateCap:  m.suppressedRate,
	}
	cutoff := time.Now().UTC().Add(-m.config.RateWindow)
	for _, alert := range m.ordered {
		stats.Total++
		stats.BySeverity[alert.Severity]++
		stats.ByStatus[alert.Status]++
		if alert.Live() && alert.CreatedAt.After(cutoff) {
			stats.CreatedLastWindow++
		}
	}
	return stats
}

// Cleanup drops expired cooldown and rate entries. Run periodically.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	for key, t := range m.cooldown {
		if now.Sub(t) > m.config.CooldownWindow {
			delete(m.cooldown, key)
		}
	}
	cutoff := now.Add(-m.config.RateWindow)
	for source, window := range m.rate {
		kept := window[:0]
		for _, t := range window {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		if len(kept) == 0 {
			delete(m.rate, source)
		} else {
			m.rate[source] = kept
		}
	}
}

// StartCleanup runs Cleanup every interval until ctx is canceled. The
// cooldown and rate tables otherwise grow with (source, issue_type)
// cardinality.
func (m *Manager) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Cleanup()
			}
		}
	}()
}
