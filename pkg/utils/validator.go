package utils

import (
	"fmt"
	"strings"
)

// ValidatePort checks v is a usable TCP port
func ValidatePort(name string, v int) error {
	if v < 1 || v > 65535 {
		return fmt.Errorf("%s: port must be between 1 and 65535, got %d", name, v)
	}
	return nil
}

// ValidateRange checks min <= v <= max
func ValidateRange(name string, v, min, max int) error {
	if v < min || v > max {
		return fmt.Errorf("%s: must be between %d and %d, got %d", name, min, max, v)
	}
	return nil
}

// ValidateRatio checks v is within [0, 1]
func ValidateRatio(name string, v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%s: must be between 0.0 and 1.0, got %.2f", name, v)
	}
	return nil
}

// ValidateNonNegative checks v >= 0. Works for durations, counts and amounts.
func ValidateNonNegative[T ~int | ~int64 | ~float64](name string, v T) error {
	if v < 0 {
		return fmt.Errorf("%s: must not be negative, got %v", name, v)
	}
	return nil
}

// ValidateOneOf checks v is one of allowed, ignoring case. Empty v is accepted.
func ValidateOneOf(name, v string, allowed ...string) error {
	if v == "" {
		return nil
	}
	for _, a := range allowed {
		if strings.EqualFold(v, a) {
			return nil
		}
	}
	return fmt.Errorf("%s: must be one of %s, got %q", name, strings.Join(allowed, ", "), v)
}

// SanitizeString removes control characters from free-text input
func SanitizeString(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}
