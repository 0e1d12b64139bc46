package schema

import (
	"errors"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// sourcePattern defines the valid format for source identifiers.
// Sources must start with a letter and may use dots, dashes and
// underscores as separators. Examples: "chat", "agent.planner", "api-gw".
var sourcePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_.-]*$`)

// Validator validates submission input against the ingestion contract.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	v := validator.New()

	v.RegisterValidation("source_format", func(fl validator.FieldLevel) bool {
		return sourcePattern.MatchString(fl.Field().String())
	})

	return &Validator{validate: v}
}

// Validate checks a SubmitInput and returns the parsed level on success.
// Failures are reported as *ValidationError naming the offending field.
func (v *Validator) Validate(input *SubmitInput) (Level, error) {
	if strings.TrimSpace(input.Message) == "" {
		return "", &ValidationError{Field: "message", Reason: "must be a non-empty string"}
	}
	if strings.TrimSpace(input.Source) == "" {
		return "", &ValidationError{Field: "source", Reason: "must be a non-empty string"}
	}

	if err := v.validate.Struct(input); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return "", &ValidationError{
				Field:  strings.ToLower(fe.Field()),
				Reason: "failed " + fe.Tag() + " constraint",
			}
		}
		return "", &ValidationError{Field: "input", Reason: err.Error()}
	}

	level, err := ParseLevel(input.Level)
	if err != nil {
		return "", err
	}

	return level, nil
}

// ValidateSource checks if a source string matches the required format.
func ValidateSource(source string) bool {
	return sourcePattern.MatchString(source)
}
