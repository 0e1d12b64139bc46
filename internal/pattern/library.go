// Package pattern provides the versioned library of detection rules used
// by the detection engine. All matchers are compiled once at startup; a
// rule that fails to compile prevents the process from serving.
package pattern

import (
	"fmt"
	"regexp"

	"agent-sentinel/internal/schema"
)

// LibraryVersion is the current version of the built-in rule set.
const LibraryVersion = "1.0.0"

// ConfigurationError reports a rule set that cannot be compiled.
// It is fatal at startup.
type ConfigurationError struct {
	RuleType string
	Err      error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("pattern library: rule %q: %v", e.RuleType, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Rule is a single detection rule: a compiled matcher plus the base
// confidence assigned to its matches. Static after Compile; never
// mutated at runtime.
type Rule struct {
	// Type is the issue type emitted on match, e.g. "pii_email".
	Type            string
	Category        schema.Category
	Expr            string
	BaseConfidence  float64
	Description     string
	SuggestedAction string

	re *regexp.Regexp
}

// Match reports whether the rule matches the text, returning the matched
// substring as evidence.
func (r *Rule) Match(text string) (string, bool) {
	m := r.re.FindString(text)
	if m == "" {
		return "", false
	}
	return m, true
}

// Library is an immutable, indexed table of compiled detection rules.
type Library struct {
	version    string
	rules      []*Rule
	byCategory map[schema.Category][]*Rule
}

// Compile builds the library from the built-in rule set. All matchers
// are compiled case-insensitively. Returns a *ConfigurationError if any
// pattern is invalid or carries a confidence outside [0,1].
func Compile() (*Library, error) {
	return compile(builtinRules)
}

func compile(specs []Rule) (*Library, error) {
	lib := &Library{
		version:    LibraryVersion,
		rules:      make([]*Rule, 0, len(specs)),
		byCategory: make(map[schema.Category][]*Rule),
	}

	for i := range specs {
		rule := specs[i]

		if rule.BaseConfidence < 0 || rule.BaseConfidence > 1 {
			return nil, &ConfigurationError{
				RuleType: rule.Type,
				Err:      fmt.Errorf("base confidence %v outside [0,1]", rule.BaseConfidence),
			}
		}
		if !rule.Category.IsValid() {
			return nil, &ConfigurationError{
				RuleType: rule.Type,
				Err:      fmt.Errorf("unknown category %q", rule.Category),
			}
		}

		re, err := regexp.Compile("(?i)" + rule.Expr)
		if err != nil {
			return nil, &ConfigurationError{RuleType: rule.Type, Err: err}
		}
		rule.re = re

		lib.rules = append(lib.rules, &rule)
		lib.byCategory[rule.Category] = append(lib.byCategory[rule.Category], &rule)
	}

	return lib, nil
}

// Version returns the rule set version.
func (l *Library) Version() string { return l.version }

// Rules returns all rules in declaration order.
func (l *Library) Rules() []*Rule { return l.rules }

// ByCategory returns the rules for one category in declaration order.
func (l *Library) ByCategory(c schema.Category) []*Rule { return l.byCategory[c] }

// Len returns the total number of rules.
func (l *Library) Len() int { return len(l.rules) }

// CategoryNames returns the string names of all categories, in
// declaration order, for the model evaluator request contract.
func (l *Library) CategoryNames() []string {
	names := make([]string, len(schema.Categories))
	for i, c := range schema.Categories {
		names[i] = string(c)
	}
	return names
}
