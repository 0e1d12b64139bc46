package schema

import "time"

// Category classifies a detection rule or finding. Declaration order is
// significant: it is the tie-break order when issues share a confidence.
type Category string

const (
	CategoryPromptInjection Category = "prompt_injection"
	CategorySensitiveData   Category = "sensitive_data_exposure"
	CategoryCodeInjection   Category = "code_injection"
	CategoryMarkupInjection Category = "markup_injection"
	CategorySuspiciousTerm  Category = "suspicious_term"
)

// Categories lists all categories in declaration order.
var Categories = []Category{
	CategoryPromptInjection,
	CategorySensitiveData,
	CategoryCodeInjection,
	CategoryMarkupInjection,
	CategorySuspiciousTerm,
}

// IsValid checks if the category is a recognized value.
func (c Category) IsValid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Rank returns the category's declaration index, or len(Categories) for
// unknown categories so they sort last.
func (c Category) Rank() int {
	for i, known := range Categories {
		if c == known {
			return i
		}
	}
	return len(Categories)
}

// ThreatLevel ranks the severity of a detected issue.
type ThreatLevel string

const (
	ThreatLow      ThreatLevel = "low"
	ThreatMedium   ThreatLevel = "medium"
	ThreatHigh     ThreatLevel = "high"
	ThreatCritical ThreatLevel = "critical"
)

// threatOrder maps threat levels to a comparable rank.
var threatOrder = map[ThreatLevel]int{
	ThreatLow:      0,
	ThreatMedium:   1,
	ThreatHigh:     2,
	ThreatCritical: 3,
}

// AtLeast returns the higher of the two threat levels.
func (t ThreatLevel) AtLeast(floor ThreatLevel) ThreatLevel {
	if threatOrder[t] < threatOrder[floor] {
		return floor
	}
	return t
}

// Meets reports whether the threat level ranks at or above min.
func (t ThreatLevel) Meets(min ThreatLevel) bool {
	return threatOrder[t] >= threatOrder[min]
}

// IsValid checks if the threat level is a recognized value.
func (t ThreatLevel) IsValid() bool {
	_, ok := threatOrder[t]
	return ok
}

// Detector identifies which detection pass produced an issue.
type Detector string

const (
	DetectedByRule  Detector = "rule"
	DetectedByModel Detector = "model"
)

// SecurityIssue is one finding produced by the rule pass or the model
// pass for a given event. Never mutated after creation.
type SecurityIssue struct {
	IssueType       string      `json:"issue_type"`
	Category        Category    `json:"category"`
	ThreatLevel     ThreatLevel `json:"threat_level"`
	Confidence      float64     `json:"confidence"`
	Evidence        string      `json:"evidence"`
	Description     string      `json:"description"`
	SuggestedAction string      `json:"suggested_action,omitempty"`
	SourceEventID   int64       `json:"source_event_id"`
	Source          string      `json:"source"`
	DetectedBy      Detector    `json:"detected_by"`
	DetectedAt      time.Time   `json:"detected_at"`
}

// SecurityIssueView is the external representation of an issue exposed
// by the ingestion and query APIs.
type SecurityIssueView struct {
	IssueType       string      `json:"issue_type"`
	Category        Category    `json:"category"`
	ThreatLevel     ThreatLevel `json:"threat_level"`
	Confidence      float64     `json:"confidence"`
	Description     string      `json:"description"`
	SuggestedAction string      `json:"suggested_action,omitempty"`
}

// View converts the issue to its external representation.
func (i *SecurityIssue) View() SecurityIssueView {
	return SecurityIssueView{
		IssueType:       i.IssueType,
		Category:        i.Category,
		ThreatLevel:     i.ThreatLevel,
		Confidence:      i.Confidence,
		Description:     i.Description,
		SuggestedAction: i.SuggestedAction,
	}
}
