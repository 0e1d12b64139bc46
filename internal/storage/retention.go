package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RetentionConfig holds configurable TTL settings for storage tables.
type RetentionConfig struct {
	EventsTTL time.Duration `yaml:"events_ttl"`
	IssuesTTL time.Duration `yaml:"issues_ttl"`
	AlertsTTL time.Duration `yaml:"alerts_ttl"`
}

// DefaultRetentionConfig returns default retention periods.
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		EventsTTL: 30 * 24 * time.Hour,
		IssuesTTL: 90 * 24 * time.Hour,
		AlertsTTL: 90 * 24 * time.Hour,
	}
}

// RetentionManager applies data retention policies.
type RetentionManager struct {
	client *ClickHouseClient
	config RetentionConfig
}

// NewRetentionManager creates a new retention manager.
func NewRetentionManager(client *ClickHouseClient, config RetentionConfig) *RetentionManager {
	return &RetentionManager{client: client, config: config}
}

// ApplyTTLs updates TTL settings on all tables to match the configured
// retention periods. Called after migrations have run.
func (r *RetentionManager) ApplyTTLs(ctx context.Context) error {
	policies := []struct {
		table  string
		column string
		ttl    time.Duration
	}{
		{"log_events", "ingested_at", r.config.EventsTTL},
		{"security_issues", "detected_at", r.config.IssuesTTL},
		{"alerts", "created_at", r.config.AlertsTTL},
	}

	for _, p := range policies {
		if p.ttl <= 0 {
			continue
		}
		days := int(p.ttl.Hours() / 24)
		if days < 1 {
			days = 1
		}

		query := fmt.Sprintf(
			"ALTER TABLE %s MODIFY TTL toDateTime(%s) + INTERVAL %d DAY DELETE",
			p.table, p.column, days,
		)
		if err := r.client.Exec(ctx, query); err != nil {
			// A missing table must not fail startup.
			slog.Warn("failed to apply TTL policy",
				"table", p.table,
				"ttl_days", days,
				"error", err,
			)
			continue
		}
		slog.Info("applied retention policy", "table", p.table, "ttl_days", days)
	}
	return nil
}
