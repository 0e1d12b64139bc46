// Package schema defines the canonical log event schema for Agent Sentinel.
// All ingested events are normalized to this structure before analysis.
package schema

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Level represents the log level of an ingested event.
type Level string

const (
	LevelDebug    Level = "DEBUG"
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelError    Level = "ERROR"
	LevelCritical Level = "CRITICAL"
)

// Levels lists all valid levels in ascending order of severity.
var Levels = []Level{LevelDebug, LevelInfo, LevelWarning, LevelError, LevelCritical}

// IsValid checks if the level is a recognized value.
func (l Level) IsValid() bool {
	switch l {
	case LevelDebug, LevelInfo, LevelWarning, LevelError, LevelCritical:
		return true
	}
	return false
}

// ParseLevel parses a level string case-insensitively.
// An empty string defaults to INFO per the ingestion contract.
func ParseLevel(s string) (Level, error) {
	if s == "" {
		return LevelInfo, nil
	}
	l := Level(strings.ToUpper(s))
	if !l.IsValid() {
		return "", &ValidationError{Field: "level", Reason: fmt.Sprintf("unrecognized level %q", s)}
	}
	return l, nil
}

// LogEvent represents a single ingested observation from a monitored
// agent application. Immutable after creation; the ingestion buffer
// assigns the ID and ingestion timestamp.
type LogEvent struct {
	// ID is a strictly increasing integer assigned at ingestion.
	ID         int64          `json:"id"`
	Message    string         `json:"message"`
	Level      Level          `json:"level"`
	Source     string         `json:"source"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	IngestedAt time.Time      `json:"ingested_at"`
}

// SubmitInput is the input format for event submission, shared by the
// HTTP ingest handler and the Kafka source.
type SubmitInput struct {
	Message  string         `json:"message" validate:"required,max=65536"`
	Level    string         `json:"level,omitempty"`
	Source   string         `json:"source" validate:"required,max=256,source_format"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// MetadataText returns the event's metadata values flattened to text in
// deterministic key order, for pattern scanning.
func (e *LogEvent) MetadataText() []string {
	if len(e.Metadata) == 0 {
		return nil
	}
	keys := make([]string, 0, len(e.Metadata))
	for k := range e.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	texts := make([]string, 0, len(keys))
	for _, k := range keys {
		texts = append(texts, stringify(e.Metadata[k]))
	}
	return texts
}

// stringify renders a metadata value as text. Every JSON-decodable value
// has a text representation, so this cannot fail.
func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}
