// Package cron matches 5-field cron expressions against wall-clock instants.
//
// The grammar is deliberately small: each field is "*", "*/N" or a comma
// separated list of integers. Ranges are not supported, and day-of-month and
// day-of-week are AND-ed rather than OR-ed as in standard cron. Existing
// schedules rely on these rules, so they must not be widened.
package cron

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FieldCount is the number of fields in an expression:
// minute, hour, day-of-month, month, day-of-week.
const FieldCount = 5

var fieldNames = [FieldCount]string{"minute", "hour", "day-of-month", "month", "day-of-week"}

// Match reports whether expr fires at t. Day-of-week is 0=Sunday..6=Saturday
// and month is 1-indexed. A malformed expression never matches.
func Match(expr string, t time.Time) bool {
	fields := strings.Fields(expr)
	if len(fields) != FieldCount {
		return false
	}

	values := [FieldCount]int{
		t.Minute(),
		t.Hour(),
		t.Day(),
		int(t.Month()),
		int(t.Weekday()),
	}
	for i, f := range fields {
		if !matchField(f, values[i]) {
			return false
		}
	}
	return true
}

func matchField(field string, value int) bool {
	if field == "*" {
		return true
	}

	if step, ok := strings.CutPrefix(field, "*/"); ok {
		n, err := strconv.Atoi(step)
		return err == nil && n > 0 && value%n == 0
	}

	for _, part := range strings.Split(field, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err == nil && n == value {
			return true
		}
	}
	return false
}

// Validate reports why expr can never be matched, or nil if every field is
// well formed under the supported grammar.
func Validate(expr string) error {
	fields := strings.Fields(expr)
	if len(fields) != FieldCount {
		return fmt.Errorf("cron: expected %d fields, got %d", FieldCount, len(fields))
	}

	for i, f := range fields {
		if err := validateField(f); err != nil {
			return fmt.Errorf("cron: %s field %q: %w", fieldNames[i], f, err)
		}
	}
	return nil
}

func validateField(field string) error {
	if field == "*" {
		return nil
	}
	if step, ok := strings.CutPrefix(field, "*/"); ok {
		n, err := strconv.Atoi(step)
		if err != nil || n <= 0 {
			return fmt.Errorf("step must be a positive integer")
		}
		return nil
	}
	for _, part := range strings.Split(field, ",") {
		if _, err := strconv.Atoi(strings.TrimSpace(part)); err != nil {
			return fmt.Errorf("%q is not an integer", part)
		}
	}
	return nil
}
