package tool

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

// Param checks used by tool handlers before they call out. Each returns a
// plain error naming the offending field.

// RequireField fails when value is empty.
func RequireField(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("'%s' is required", name)
	}
	return nil
}

// ValidateFloatRange fails unless value is a number within [lo, hi].
func ValidateFloatRange(name string, value, lo, hi float64) error {
	if math.IsNaN(value) || value < lo || value > hi {
		return fmt.Errorf("%s must be between %g and %g", name, lo, hi)
	}
	return nil
}

// ValidateEnum fails when value is set and not one of allowed.
func ValidateEnum(name, value string, allowed ...string) error {
	if value == "" || slices.Contains(allowed, value) {
		return nil
	}
	return fmt.Errorf("invalid %s %q (want: %s)", name, value, strings.Join(allowed, ", "))
}

// ValidateMaxLength fails when value is longer than max bytes.
func ValidateMaxLength(name, value string, max int) error {
	if len(value) > max {
		return fmt.Errorf("%s exceeds maximum length of %d", name, max)
	}
	return nil
}

// ValidateAll returns the first failure among checks.
func ValidateAll(checks ...error) error {
	for _, err := range checks {
		if err != nil {
			return err
		}
	}
	return nil
}

