package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"agent-sentinel/internal/schema"

	"github.com/segmentio/kafka-go"
)

// SubmitFunc receives a decoded submission from the topic. Returning
// an error leaves the message uncommitted for redelivery, except for
// validation errors, which are committed and counted as rejects.
type SubmitFunc func(ctx context.Context, input *schema.SubmitInput) error

// Source consumes JSON log submissions from a Kafka topic.
type Source struct {
	reader *kafka.Reader
	config *Config
	logger *slog.Logger
	submit SubmitFunc

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
	closed  atomic.Bool

	messagesConsumed atomic.Int64
	messagesRejected atomic.Int64
	consumeErrors    atomic.Int64
}

// NewSource creates a Kafka source feeding submissions to submit.
func NewSource(config *Config, submit SubmitFunc, logger *slog.Logger) (*Source, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if submit == nil {
		return nil, errors.New("kafka: submit function is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	dialer, err := config.GetDialer()
	if err != nil {
		return nil, err
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        config.Brokers,
		GroupID:        config.ConsumerGroup,
		Topic:          config.Topic,
		Dialer:         dialer,
		MinBytes:       config.ConsumerMinBytes,
		MaxBytes:       config.ConsumerMaxBytes,
		MaxWait:        config.ConsumerMaxWait,
		CommitInterval: config.CommitInterval,
		StartOffset:    config.StartOffset,
		ReadBackoffMin: 100 * time.Millisecond,
		ReadBackoffMax: time.Second,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Debug(fmt.Sprintf(msg, args...), "component", "kafka-reader")
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error(fmt.Sprintf(msg, args...), "component", "kafka-reader")
		}),
	})

	logger.Info("kafka source initialized",
		"brokers", config.Brokers,
		"topic", config.Topic,
		"group", config.ConsumerGroup,
	)

	return &Source{
		reader: reader,
		config: config,
		logger: logger,
		submit: submit,
	}, nil
}

// Start begins consuming in a goroutine. Use Stop to stop.
func (s *Source) Start() error {
	if s.started.Swap(true) {
		return errors.New("kafka: source already started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.consumeLoop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("kafka source loop exited", "error", err)
		}
	}()

	s.logger.Info("kafka source started", "topic", s.config.Topic)
	return nil
}

func (s *Source) consumeLoop(ctx context.Context) error {
	for {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			s.consumeErrors.Add(1)
			s.logger.Error("failed to fetch message", "error", err, "topic", s.config.Topic)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
				continue
			}
		}

		if err := s.handleMessage(ctx, msg); err != nil {
			s.logger.Error("failed to process message",
				"error", err,
				"partition", msg.Partition,
				"offset", msg.Offset,
			)
			// Leave uncommitted for redelivery.
			continue
		}

		if err := s.reader.CommitMessages(ctx, msg); err != nil {
			s.logger.Error("failed to commit offset", "error", err, "offset", msg.Offset)
		}
		s.messagesConsumed.Add(1)
	}
}

func (s *Source) handleMessage(ctx context.Context, msg kafka.Message) error {
	var input schema.SubmitInput
	if err := json.Unmarshal(msg.Value, &input); err != nil {
		// Malformed payloads can never succeed; drop and commit.
		s.messagesRejected.Add(1)
		s.logger.Warn("dropping malformed message",
			"error", err,
			"partition", msg.Partition,
			"offset", msg.Offset,
		)
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := s.submit(ctx, &input); err != nil {
		var verr *schema.ValidationError
		if errors.As(err, &verr) {
			s.messagesRejected.Add(1)
			s.logger.Warn("dropping invalid submission",
				"field", verr.Field,
				"reason", verr.Reason,
				"offset", msg.Offset,
			)
			return nil
		}
		return err
	}
	return nil
}

// Metrics holds source statistics.
type Metrics struct {
	Consumed int64 `json:"consumed"`
	Rejected int64 `json:"rejected"`
	Errors   int64 `json:"errors"`
}

// Metrics returns source statistics.
func (s *Source) Metrics() Metrics {
	return Metrics{
		Consumed: s.messagesConsumed.Load(),
		Rejected: s.messagesRejected.Load(),
		Errors:   s.consumeErrors.Load(),
	}
}

// Stop gracefully stops the source.
func (s *Source) Stop() error {
	if s.closed.Swap(true) {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	if err := s.reader.Close(); err != nil {
		return fmt.Errorf("kafka: failed to close source: %w", err)
	}
	s.logger.Info("kafka source stopped", "consumed", s.messagesConsumed.Load())
	return nil
}
