package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"agent-sentinel/internal/schema"
)

const (
	defaultTimeout  = 5 * time.Second
	defaultAttempts = 2

	// Responses above this size are truncated before decoding.
	maxResponseBytes = 1 << 20
)

// HTTPConfig configures an HTTPEvaluator.
type HTTPConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
	Attempts int
}

// HTTPEvaluator calls a remote model scoring service over HTTP. Each
// call posts the text and candidate categories as JSON and expects a
// list of findings back. Transport failures are retried up to the
// configured attempt count; a malformed response body yields zero
// findings rather than an error.
type HTTPEvaluator struct {
	cfg    HTTPConfig
	client *http.Client
}

// NewHTTPEvaluator creates an evaluator for the given endpoint.
func NewHTTPEvaluator(cfg HTTPConfig) *HTTPEvaluator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = defaultAttempts
	}
	return &HTTPEvaluator{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type evaluateRequest struct {
	Text       string            `json:"text"`
	Categories []schema.Category `json:"categories"`
}

type evaluateResponse struct {
	Findings []Finding `json:"findings"`
}

// Evaluate implements Evaluator.
func (e *HTTPEvaluator) Evaluate(ctx context.Context, text string, categories []schema.Category) ([]Finding, error) {
	body, err := json.Marshal(evaluateRequest{Text: text, Categories: categories})
	if err != nil {
		return nil, fmt.Errorf("encode evaluate request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= e.cfg.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		findings, err := e.once(ctx, body)
		if err == nil {
			return findings, nil
		}
		lastErr = err
	}
	return nil, &UnavailableError{Endpoint: e.cfg.Endpoint, Attempts: e.cfg.Attempts, Err: lastErr}
}

func (e *HTTPEvaluator) once(ctx context.Context, body []byte) ([]Finding, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil, fmt.Errorf("evaluator returned status %d", resp.StatusCode)
	}

	var decoded evaluateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&decoded); err != nil {
		// A reachable but misbehaving backend contributes nothing;
		// rule findings still stand.
		return nil, nil
	}

	findings := decoded.Findings[:0:len(decoded.Findings)]
	for _, f := range decoded.Findings {
		if !f.Category.IsValid() || f.Confidence < 0 || f.Confidence > 1 {
			continue
		}
		findings = append(findings, f)
	}
	return findings, nil
}
