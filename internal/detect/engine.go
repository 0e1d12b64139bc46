// Package detect implements the two-pass detection engine: a rule pass
// over the compiled pattern library, followed by an optional model pass
// via an external evaluator.
package detect

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"agent-sentinel/internal/model"
	"agent-sentinel/internal/pattern"
	"agent-sentinel/internal/schema"
)

// DefaultConfidenceThreshold gates findings from both passes.
const DefaultConfidenceThreshold = 0.5

// Confidence-to-threat mapping. Confidence at or above each bound maps
// to the corresponding level; anything below medium is low.
const (
	criticalBound = 0.85
	highBound     = 0.7
	mediumBound   = 0.5
)

// threatFloors raises the derived threat level for categories whose
// findings are consequential even at modest confidence.
var threatFloors = map[schema.Category]schema.ThreatLevel{
	schema.CategorySensitiveData: schema.ThreatMedium,
}

// Config configures an Engine.
type Config struct {
	ConfidenceThreshold float64
	ScanMetadata        bool
}

// Result is the outcome of evaluating one event. Partial is true when
// the model pass was requested but unavailable, so Issues holds the
// rule pass only.
type Result struct {
	Issues  []*schema.SecurityIssue
	Partial bool
}

// Engine runs both detection passes over ingested events. It is safe
// for concurrent use: the library is immutable after compilation and
// the evaluator manages its own state.
type Engine struct {
	library   *pattern.Library
	evaluator model.Evaluator
	cfg       Config
	logger    *slog.Logger
}

// NewEngine creates a detection engine. Pass model.Disabled{} as the
// evaluator to run the rule pass only.
func NewEngine(library *pattern.Library, evaluator model.Evaluator, cfg Config, logger *slog.Logger) *Engine {
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{library: library, evaluator: evaluator, cfg: cfg, logger: logger}
}

// Evaluate runs both passes over the event and returns the merged,
// ordered findings. The rule pass always runs; an evaluator failure
// never discards rule findings.
func (e *Engine) Evaluate(ctx context.Context, event *schema.LogEvent) (*Result, error) {
	text := event.Message
	if e.cfg.ScanMetadata {
		if meta := event.MetadataText(); len(meta) > 0 {
			text = text + "\n" + strings.Join(meta, "\n")
		}
	}

	issues := e.rulePass(event, text)

	result := &Result{}
	modelIssues, partial := e.modelPass(ctx, event, text)
	result.Partial = partial
	issues = append(issues, modelIssues...)

	// Descending confidence; equal confidences keep category
	// declaration order.
	sort.SliceStable(issues, func(i, j int) bool {
		if issues[i].Confidence != issues[j].Confidence {
			return issues[i].Confidence > issues[j].Confidence
		}
		return issues[i].Category.Rank() < issues[j].Category.Rank()
	})

	result.Issues = issues
	return result, nil
}

func (e *Engine) rulePass(event *schema.LogEvent, text string) []*schema.SecurityIssue {
	var issues []*schema.SecurityIssue
	now := time.Now().UTC()
	for _, rule := range e.library.Rules() {
		evidence, ok := rule.Match(text)
		if !ok || rule.BaseConfidence < e.cfg.ConfidenceThreshold {
			continue
		}
		issues = append(issues, &schema.SecurityIssue{
			IssueType:       rule.Type,
			Category:        rule.Category,
			ThreatLevel:     deriveThreat(rule.Category, rule.BaseConfidence),
			Confidence:      rule.BaseConfidence,
			Evidence:        evidence,
			Description:     rule.Description,
			SuggestedAction: rule.SuggestedAction,
			SourceEventID:   event.ID,
			Source:          event.Source,
			DetectedBy:      schema.DetectedByRule,
			DetectedAt:      now,
		})
	}
	return issues
}

func (e *Engine) modelPass(ctx context.Context, event *schema.LogEvent, text string) ([]*schema.SecurityIssue, bool) {
	findings, err := e.evaluator.Evaluate(ctx, text, schema.Categories)
	if err != nil {
		e.logger.Warn("model pass unavailable, returning rule findings only",
			slog.Int64("event_id", event.ID),
			slog.String("error", err.Error()))
		return nil, true
	}

	var issues []*schema.SecurityIssue
	now := time.Now().UTC()
	for _, f := range findings {
		if f.Confidence < e.cfg.ConfidenceThreshold {
			continue
		}
		description := f.Explanation
		if description == "" {
			description = fmt.Sprintf("model flagged %s content", f.Category)
		}
		issues = append(issues, &schema.SecurityIssue{
			IssueType:     "model_" + string(f.Category),
			Category:      f.Category,
			ThreatLevel:   deriveThreat(f.Category, f.Confidence),
			Confidence:    f.Confidence,
			Description:   description,
			SourceEventID: event.ID,
			Source:        event.Source,
			DetectedBy:    schema.DetectedByModel,
			DetectedAt:    now,
		})
	}
	return issues, false
}

// deriveThreat maps a confidence score to a threat level and applies
// the per-category floor.
func deriveThreat(category schema.Category, confidence float64) schema.ThreatLevel {
	var level schema.ThreatLevel
	switch {
	case confidence >= criticalBound:
		level = schema.ThreatCritical
	case confidence >= highBound:
		level = schema.ThreatHigh
	case confidence >= mediumBound:
		level = schema.ThreatMedium
	default:
		level = schema.ThreatLow
	}
	if floor, ok := threatFloors[category]; ok {
		level = level.AtLeast(floor)
	}
	return level
}
