// Package model defines the external model evaluator used by the
// detection engine's second analysis pass.
package model

import (
	"context"
	"fmt"

	"agent-sentinel/internal/schema"
)

// Finding is a single category judgment produced by a model evaluator.
type Finding struct {
	Category    schema.Category `json:"category"`
	Confidence  float64         `json:"confidence"`
	Explanation string          `json:"explanation,omitempty"`
}

// Evaluator scores a piece of text against the known threat categories.
// Implementations must honor ctx cancellation.
type Evaluator interface {
	Evaluate(ctx context.Context, text string, categories []schema.Category) ([]Finding, error)
}

// UnavailableError indicates the model backend could not be reached or
// did not answer within its deadline. The detection engine treats it as
// a signal to fall back to rule-only results.
type UnavailableError struct {
	Endpoint string
	Attempts int
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("model evaluator %s unavailable after %d attempt(s): %v", e.Endpoint, e.Attempts, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Disabled is an Evaluator that performs no analysis. It is wired in
// when model analysis is turned off in configuration.
type Disabled struct{}

func (Disabled) Evaluate(context.Context, string, []schema.Category) ([]Finding, error) {
	return nil, nil
}
