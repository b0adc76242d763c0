package certification

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/wagnerlima/certledger/internal/models"
)

// ErrInvalidInput is returned when caller-supplied values fail validation.
// It is returned before any store access.
var ErrInvalidInput = errors.New("invalid input")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// ValidateRequired rejects an empty or blank string field.
func ValidateRequired(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return invalid("%s is required", field)
	}
	return nil
}

// ValidateOutcome rejects anything but "pass" or "fail".
func ValidateOutcome(outcome string) error {
	if !models.ValidOutcome(outcome) {
		return invalid("result must be %q or %q, got %q", models.OutcomePass, models.OutcomeFail, outcome)
	}
	return nil
}

// ValidateThreshold rejects thresholds outside [0, 100].
func ValidateThreshold(min float64) error {
	if math.IsNaN(min) || min < 0 || min > 100 {
		return invalid("min_trust_score must be between 0 and 100, got %v", min)
	}
	return nil
}
