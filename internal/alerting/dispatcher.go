package alerting

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DispatcherConfig configures delivery retries.
type DispatcherConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	SendTimeout    time.Duration
}

// DefaultDispatcherConfig returns sensible delivery defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		MaxRetries:     3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
		SendTimeout:    10 * time.Second,
	}
}

// Dispatcher delivers live alerts to the configured channels in the
// background and marks them sent once at least one channel accepted
// the alert.
type Dispatcher struct {
	config   DispatcherConfig
	manager  *Manager
	logger   *slog.Logger
	mu       sync.RWMutex
	channels []NotificationChannel
	wg       sync.WaitGroup
}

// NewDispatcher creates a dispatcher bound to the manager.
func NewDispatcher(config DispatcherConfig, manager *Manager, logger *slog.Logger) *Dispatcher {
	def := DefaultDispatcherConfig()
	if config.MaxRetries <= 0 {
		config.MaxRetries = def.MaxRetries
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = def.InitialBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = def.MaxBackoff
	}
	if config.BackoffFactor <= 1 {
		config.BackoffFactor = def.BackoffFactor
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = def.SendTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		config:  config,
		manager: manager,
		logger:  logger,
	}
}

// AddChannel adds a notification channel.
func (d *Dispatcher) AddChannel(channel NotificationChannel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels = append(d.channels, channel)
	d.logger.Info("added notification channel", slog.String("name", channel.Name()))
}

// Dispatch delivers each live alert to every channel asynchronously.
// Suppressed alerts are skipped.
func (d *Dispatcher) Dispatch(ctx context.Context, alerts []*Alert) {
	d.mu.RLock()
	channels := d.channels
	d.mu.RUnlock()

	// Delivery must outlive the submission that triggered it: the
	// caller's context is typically an HTTP request or a per-message
	// consumer context that ends as soon as the submission returns.
	ctx = context.WithoutCancel(ctx)

	for _, alert := range alerts {
		if !alert.Live() {
			continue
		}
		if len(channels) == 0 {
			// No channels configured; the alert is considered
			// delivered so it can be acknowledged.
			if err := d.manager.MarkSent(alert.ID); err != nil {
				d.logger.Warn("mark sent failed", slog.String("alert_id", alert.ID.String()), slog.String("error", err.Error()))
			}
			continue
		}
		for _, ch := range channels {
			d.wg.Add(1)
			go d.deliver(ctx, ch, alert)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ch NotificationChannel, alert *Alert) {
	defer d.wg.Done()

	backoff := d.config.InitialBackoff
	for attempt := 1; attempt <= d.config.MaxRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, d.config.SendTimeout)
		err := ch.Send(attemptCtx, alert)
		cancel()

		if err == nil {
			if err := d.manager.MarkSent(alert.ID); err != nil {
				d.logger.Warn("mark sent failed",
					slog.String("alert_id", alert.ID.String()),
					slog.String("error", err.Error()))
			}
			d.logger.Debug("notification delivered",
				slog.String("channel", ch.Name()),
				slog.String("alert_id", alert.ID.String()),
				slog.Int("attempts", attempt))
			return
		}

		d.logger.Warn("notification delivery failed",
			slog.String("channel", ch.Name()),
			slog.String("alert_id", alert.ID.String()),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))

		if attempt == d.config.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = time.Duration(float64(backoff) * d.config.BackoffFactor)
		if backoff > d.config.MaxBackoff {
			backoff = d.config.MaxBackoff
		}
	}

	d.logger.Error("notification delivery exhausted retries",
		slog.String("channel", ch.Name()),
		slog.String("alert_id", alert.ID.String()))
}

// Stop waits for in-flight deliveries, retries included, to finish.
// Each delivery is bounded by MaxRetries attempts of SendTimeout each,
// so the wait cannot hang on a stuck channel.
func (d *Dispatcher) Stop() {
	d.wg.Wait()
}
