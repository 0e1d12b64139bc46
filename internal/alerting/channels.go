package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// NotificationChannel defines a notification channel interface.
type NotificationChannel interface {
	Name() string
	Send(ctx context.Context, alert *Alert) error
}

// WebhookChannel sends alerts via HTTP webhook.
type WebhookChannel struct {
	name    string
	url     string
	headers map[string]string
	client  *http.Client
}

// NewWebhookChannel creates a new webhook channel.
func NewWebhookChannel(name, url string, headers map[string]string) *WebhookChannel {
	return &WebhookChannel{
		name:    name,
		url:     url,
		headers: headers,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (w *WebhookChannel) Name() string {
	return w.name
}

func (w *WebhookChannel) Send(ctx context.Context, alert *Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

// SlackChannel sends alerts to Slack.
type SlackChannel struct {
	webhookURL string
	channel    string
	username   string
	client     *http.Client
}

// NewSlackChannel creates a new Slack channel.
func NewSlackChannel(webhookURL, channel, username string) *SlackChannel {
	return &SlackChannel{
		webhookURL: webhookURL,
		channel:    channel,
		username:   username,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (s *SlackChannel) Name() string {
	return "slack"
}

func (s *SlackChannel) Send(ctx context.Context, alert *Alert) error {
	payload := map[string]interface{}{
		"channel":  s.channel,
		"username": s.username,
		"attachments": []map[string]interface{}{
			{
				"color":  s.severityColor(alert.Severity),
				"title":  fmt.Sprintf("[%s] %s", strings.ToUpper(string(alert.Severity)), alert.Title),
				"text":   alert.Message,
				"fields": s.buildFields(alert),
				"footer": fmt.Sprintf("Alert ID: %s | Event: %d", alert.ID.String()[:8], alert.SourceEventID),
				"ts":     alert.CreatedAt.Unix(),
			},
		},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.webhookURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("slack returned %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

func (s *SlackChannel) severityColor(sev Severity) string {
	switch sev {
	case SeverityCritical:
		return "#FF0000"
	case SeverityError:
		return "#FFA500"
	case SeverityWarning:
		return "#FFFF00"
	case SeverityInfo:
		return "#00FF00"
	default:
		return "#808080"
	}
}

func (s *SlackChannel) buildFields(alert *Alert) []map[string]interface{} {
	return []map[string]interface{}{
		{"title": "Severity", "value": string(alert.Severity), "short": true},
		{"title": "Threat", "value": string(alert.ThreatLevel), "short": true},
		{"title": "Source", "value": alert.Source, "short": true},
		{"title": "Issue", "value": alert.IssueType, "short": true},
		{"title": "Confidence", "value": fmt.Sprintf("%.2f", alert.Confidence), "short": true},
	}
}

// RedisChannel publishes alerts to a Redis pub/sub channel so other
// services can react to them in real time.
type RedisChannel struct {
	client  *redis.Client
	channel string
}

// NewRedisChannel creates a Redis publisher channel.
func NewRedisChannel(client *redis.Client, channel string) *RedisChannel {
	return &RedisChannel{client: client, channel: channel}
}

func (r *RedisChannel) Name() string {
	return "redis"
}

func (r *RedisChannel) Send(ctx context.Context, alert *Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}

// LogChannel logs alerts (for debugging/development).
type LogChannel struct {
	logger func(format string, args ...interface{})
}

// NewLogChannel creates a new log channel.
func NewLogChannel(logger func(format string, args ...interface{})) *LogChannel {
	return &LogChannel{logger: logger}
}

func (l *LogChannel) Name() string {
	return "log"
}

func (l *LogChannel) Send(ctx context.Context, alert *Alert) error {
	l.logger("ALERT [%s] %s - %s (source=%s, issue=%s, confidence=%.2f)",
		alert.Severity, alert.Title, alert.Message,
		alert.Source, alert.IssueType, alert.Confidence)
	return nil
}
