package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"agent-sentinel/internal/schema"
)

type captureChannel struct {
	mu    sync.Mutex
	sent  []*Alert
	fails int
	delay time.Duration
}

func (c *captureChannel) Name() string { return "capture" }

func (c *captureChannel) Send(ctx context.Context, alert *Alert) error {
	if c.delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.delay):
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fails > 0 {
		c.fails--
		return errors.New("transient failure")
	}
	c.sent = append(c.sent, alert)
	return nil
}

func (c *captureChannel) delivered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func TestDispatcher_DeliversAndMarksSent(t *testing.T) {
	m := newTestManager(ManagerConfig{})
	d := NewDispatcher(DispatcherConfig{}, m, slog.New(slog.DiscardHandler))
	ch := &captureChannel{}
	d.AddChannel(ch)

	alerts := m.Process([]*schema.SecurityIssue{
		testIssue("agent-a", "prompt_injection_override", schema.ThreatCritical),
	})
	d.Dispatch(context.Background(), alerts)
	d.Stop()

	if ch.delivered() != 1 {
		t.Fatalf("channel saw %d alerts, want 1", ch.delivered())
	}
	alert, err := m.Get(alerts[0].ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if alert.Status != StatusSent {
		t.Errorf("status = %s, want sent", alert.Status)
	}
}

func TestDispatcher_SkipsSuppressed(t *testing.T) {
	m := newTestManager(ManagerConfig{CooldownWindow: time.Hour})
	d := NewDispatcher(DispatcherConfig{}, m, slog.New(slog.DiscardHandler))
	ch := &captureChannel{}
	d.AddChannel(ch)

	first := m.Process([]*schema.SecurityIssue{
		testIssue("agent-a", "repeat", schema.ThreatHigh),
	})
	repeat := m.Process([]*schema.SecurityIssue{
		testIssue("agent-a", "repeat", schema.ThreatHigh),
	})
	d.Dispatch(context.Background(), first)
	d.Dispatch(context.Background(), repeat)
	d.Stop()

	if ch.delivered() != 1 {
		t.Errorf("channel saw %d alerts, want 1 (suppressed must not be delivered)", ch.delivered())
	}
}

func TestDispatcher_DeliveryOutlivesCaller(t *testing.T) {
	m := newTestManager(ManagerConfig{})
	d := NewDispatcher(DispatcherConfig{}, m, slog.New(slog.DiscardHandler))
	ch := &captureChannel{delay: 20 * time.Millisecond}
	d.AddChannel(ch)

	ctx, cancel := context.WithCancel(context.Background())
	alerts := m.Process([]*schema.SecurityIssue{
		testIssue("agent-a", "prompt_injection_override", schema.ThreatCritical),
	})
	d.Dispatch(ctx, alerts)
	// The submitting context ends before the channel finishes, as an
	// HTTP request context does once the response is written.
	cancel()
	d.Stop()

	if ch.delivered() != 1 {
		t.Fatalf("channel saw %d alerts, want 1", ch.delivered())
	}
	alert, err := m.Get(alerts[0].ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if alert.Status != StatusSent {
		t.Errorf("status = %s, want sent", alert.Status)
	}
}

func TestDispatcher_StopDrainsRetries(t *testing.T) {
	m := newTestManager(ManagerConfig{})
	d := NewDispatcher(DispatcherConfig{
		MaxRetries:     3,
		InitialBackoff: 5 * time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
		BackoffFactor:  2.0,
	}, m, slog.New(slog.DiscardHandler))
	ch := &captureChannel{fails: 2}
	d.AddChannel(ch)

	alerts := m.Process([]*schema.SecurityIssue{
		testIssue("agent-a", "issue", schema.ThreatHigh),
	})
	d.Dispatch(context.Background(), alerts)
	// Stop immediately, while the delivery is still backing off; the
	// remaining attempts must run before it returns.
	d.Stop()

	if ch.delivered() != 1 {
		t.Fatalf("channel saw %d alerts, want 1 (retries dropped on shutdown)", ch.delivered())
	}
	alert, err := m.Get(alerts[0].ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if alert.Status != StatusSent {
		t.Errorf("status = %s, want sent", alert.Status)
	}
}

func TestDispatcher_RetriesTransientFailure(t *testing.T) {
	m := newTestManager(ManagerConfig{})
	d := NewDispatcher(DispatcherConfig{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		BackoffFactor:  2.0,
	}, m, slog.New(slog.DiscardHandler))
	ch := &captureChannel{fails: 2}
	d.AddChannel(ch)

	alerts := m.Process([]*schema.SecurityIssue{
		testIssue("agent-a", "issue", schema.ThreatHigh),
	})
	d.Dispatch(context.Background(), alerts)
	d.Stop()

	if ch.delivered() != 1 {
		t.Fatalf("channel saw %d alerts after retries, want 1", ch.delivered())
	}
}

func TestDispatcher_NoChannelsStillMarksSent(t *testing.T) {
	m := newTestManager(ManagerConfig{})
	d := NewDispatcher(DispatcherConfig{}, m, slog.New(slog.DiscardHandler))

	alerts := m.Process([]*schema.SecurityIssue{
		testIssue("agent-a", "issue", schema.ThreatHigh),
	})
	d.Dispatch(context.Background(), alerts)
	d.Stop()

	alert, err := m.Get(alerts[0].ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if alert.Status != StatusSent {
		t.Errorf("status = %s, want sent", alert.Status)
	}
}

func TestWebhookChannel_Send(t *testing.T) {
	received := make(chan *Alert, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Token"); got != "secret" {
			t.Errorf("X-Token = %q", got)
		}
		var alert Alert
		if err := json.NewDecoder(r.Body).Decode(&alert); err != nil {
			t.Fatalf("decode: %v", err)
		}
		received <- &alert
	}))
	defer srv.Close()

	ch := NewWebhookChannel("ops", srv.URL, map[string]string{"X-Token": "secret"})
	m := newTestManager(ManagerConfig{})
	alerts := m.Process([]*schema.SecurityIssue{
		testIssue("agent-a", "issue", schema.ThreatCritical),
	})

	if err := ch.Send(context.Background(), alerts[0]); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got := <-received
	if got.IssueType != "issue" || got.Severity != SeverityCritical {
		t.Errorf("webhook payload = %+v", got)
	}
}

func TestWebhookChannel_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	ch := NewWebhookChannel("ops", srv.URL, nil)
	m := newTestManager(ManagerConfig{})
	alerts := m.Process([]*schema.SecurityIssue{
		testIssue("agent-a", "issue", schema.ThreatHigh),
	})
	if err := ch.Send(context.Background(), alerts[0]); err == nil {
		t.Error("expected error for 403 response")
	}
}
