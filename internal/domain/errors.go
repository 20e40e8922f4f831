package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across stores and services.
var (
	ErrNotFound = errors.New("not found")
)

// MetricNotFoundError indicates a condition references a metric that is not
// registered. Surfaced at rule-authoring time and, defensively, at
// evaluation time.
type MetricNotFoundError struct {
	Metric string
}

func (e *MetricNotFoundError) Error() string {
	return fmt.Sprintf("metric not found: %s", e.Metric)
}

// InvalidOperationError indicates an operation is not supported by the
// named metric, or its payload is malformed for that operation.
type InvalidOperationError struct {
	Metric    string
	Operation Operation
	Reason    string
}

func (e *InvalidOperationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid operation %q for metric %q: %s", e.Operation, e.Metric, e.Reason)
	}
	return fmt.Sprintf("invalid operation %q for metric %q", e.Operation, e.Metric)
}

// InvalidRangeError indicates a range spec carries neither min nor max.
// This is corrupt configuration and is raised rather than skipped, since a
// range that can never match would silently hide the authoring mistake.
type InvalidRangeError struct {
	Interpretation string
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("range for interpretation %q has neither min nor max", e.Interpretation)
}

// UnsupportedCodingError indicates a coded value reached a range-based rule.
// Numeric ranges cannot interpret coded values; the observation and its
// definition are mis-wired.
type UnsupportedCodingError struct{}

func (e *UnsupportedCodingError) Error() string {
	return "coding not supported by range-based rule"
}

// MissingCodingError indicates a valueset-based rule received a value
// without a coding.
type MissingCodingError struct{}

func (e *MissingCodingError) Error() string {
	return "coding not found in value"
}

// RuleValidationError wraps a structural problem found while validating a
// qualified-ranges rule at configuration-save time.
type RuleValidationError struct {
	Index  int
	Reason string
	Err    error
}

func (e *RuleValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rule %d invalid: %s: %v", e.Index, e.Reason, e.Err)
	}
	return fmt.Sprintf("rule %d invalid: %s", e.Index, e.Reason)
}

func (e *RuleValidationError) Unwrap() error {
	return e.Err
}
