package errors

import (
	"fmt"
	"path/filepath"
	"strings"
)

// EntryContext locates a problem inside an imported document
type EntryContext struct {
	Source   string `json:"source"`
	Entry    int    `json:"entry"`
	Field    string `json:"field,omitempty"`
	Value    string `json:"value,omitempty"`
	Expected string `json:"expected,omitempty"`
}

// ImportError is a field-level problem found while importing records
type ImportError struct {
	*VerifierError
	Entry       *EntryContext `json:"entry_context"`
	Recoverable bool          `json:"recoverable"`
	Examples    []string      `json:"examples,omitempty"`
}

// Error implements the error interface with the entry location appended
func (e *ImportError) Error() string {
	if e.Entry == nil {
		return e.VerifierError.Error()
	}
	location := fmt.Sprintf("at %s entry %d", filepath.Base(e.Entry.Source), e.Entry.Entry)
	if e.Entry.Field != "" {
		location += fmt.Sprintf(" field '%s'", e.Entry.Field)
	}
	return e.VerifierError.Error() + " " + location
}

// GetDetailedError returns a multi-line description suitable for the CLI
func (e *ImportError) GetDetailedError() string {
	lines := []string{fmt.Sprintf("ERROR: %s", e.Message)}
	if e.Entry != nil {
		lines = append(lines, fmt.Sprintf("  → Source: %s", e.Entry.Source))
		lines = append(lines, fmt.Sprintf("  → Entry: %d", e.Entry.Entry))
		if e.Entry.Field != "" {
			lines = append(lines, fmt.Sprintf("  → Field: %s", e.Entry.Field))
		}
		if e.Entry.Value != "" {
			lines = append(lines, fmt.Sprintf("  → Value: '%s'", e.Entry.Value))
		}
		if e.Entry.Expected != "" {
			lines = append(lines, fmt.Sprintf("  → Expected: %s", e.Entry.Expected))
		}
	}
	if e.Suggestion != "" {
		lines = append(lines, fmt.Sprintf("  → Suggestion: %s", e.Suggestion))
	}
	if len(e.Examples) > 0 {
		lines = append(lines, "  → Examples: "+strings.Join(e.Examples, ", "))
	}
	return strings.Join(lines, "\n")
}

// NewImportError creates an import error for one entry of a document
func NewImportError(code ErrorCode, entry *EntryContext, message string, cause error) *ImportError {
	base := newOrWrap(cause, CategoryValidation, code, message)
	if entry != nil {
		base.WithContext("source", entry.Source).
			WithContext("entry", entry.Entry).
			WithContext("field", entry.Field)
	}
	return &ImportError{
		VerifierError: base,
		Entry:         entry,
		Recoverable:   true,
	}
}

// WithExamples adds example values to help fix the error
func (e *ImportError) WithExamples(examples ...string) *ImportError {
	e.Examples = examples
	return e
}

// MissingFieldImportError reports an empty required field
func MissingFieldImportError(source string, entry int, field string) *ImportError {
	ctx := &EntryContext{Source: source, Entry: entry, Field: field}
	err := NewImportError(CodeMissingField, ctx, fmt.Sprintf("required field '%s' is empty", field), nil)
	err.WithSuggestion("provide a value for this field or drop the entry")
	return err
}

// InvalidAmountImportError reports an amount that normalizes to nothing
func InvalidAmountImportError(source string, entry int, field, value string) *ImportError {
	ctx := &EntryContext{Source: source, Entry: entry, Field: field, Value: value, Expected: "digit string"}
	return NewImportError(CodeInvalidAmount, ctx, "invalid amount format", nil).
		WithExamples("1500000", "1,500,000", "۱۵۰۰۰۰۰")
}

// InvalidDateImportError reports a due date that cannot be normalized
func InvalidDateImportError(source string, entry int, field, value string) *ImportError {
	ctx := &EntryContext{Source: source, Entry: entry, Field: field, Value: value, Expected: "8 digit local date"}
	return NewImportError(CodeInvalidDate, ctx, "invalid date format", nil).
		WithExamples("1404/07/25", "14040725", "۱۴۰۴-۰۷-۲۵")
}

// ImportErrorFrom converts a record validation error into an import error for
// one entry of source
func ImportErrorFrom(source string, entry int, err error) *ImportError {
	verr, ok := AsVerifierError(err)
	if !ok {
		return NewImportError(CodeInvalidData, &EntryContext{Source: source, Entry: entry}, err.Error(), err)
	}
	field, _ := verr.Context["field"].(string)
	value := fmt.Sprint(verr.Context["value"])

	switch verr.Code {
	case CodeMissingField:
		return MissingFieldImportError(source, entry, field)
	case CodeInvalidAmount:
		return InvalidAmountImportError(source, entry, field, value)
	case CodeInvalidDate:
		return InvalidDateImportError(source, entry, field, value)
	default:
		ctx := &EntryContext{Source: source, Entry: entry, Field: field, Value: value}
		return NewImportError(verr.Code, ctx, verr.Message, verr)
	}
}

// ImportErrorCollector gathers import errors up to a limit
type ImportErrorCollector struct {
	errors    []*ImportError
	maxErrors int
}

// NewImportErrorCollector creates a new error collector
func NewImportErrorCollector(maxErrors int) *ImportErrorCollector {
	return &ImportErrorCollector{maxErrors: maxErrors}
}

// Add records err and reports whether processing may continue
func (c *ImportErrorCollector) Add(err *ImportError) bool {
	if err == nil {
		return true
	}
	c.errors = append(c.errors, err)
	if c.maxErrors > 0 && len(c.errors) >= c.maxErrors {
		return false
	}
	return err.Recoverable
}

// HasErrors returns true if any errors have been collected
func (c *ImportErrorCollector) HasErrors() bool {
	return len(c.errors) > 0
}

// GetErrors returns all collected errors
func (c *ImportErrorCollector) GetErrors() []*ImportError {
	return c.errors
}

// GetSummary returns an error summary for all collected errors
func (c *ImportErrorCollector) GetSummary() *ErrorSummary {
	base := make([]*VerifierError, len(c.errors))
	for i, err := range c.errors {
		base[i] = err.VerifierError
	}
	return NewErrorSummary(base)
}

// FormatImportErrorsForUser formats import errors for terminal output
func FormatImportErrorsForUser(errs []*ImportError) string {
	if len(errs) == 0 {
		return "No import errors"
	}
	if len(errs) == 1 {
		return errs[0].GetDetailedError()
	}

	lines := []string{fmt.Sprintf("Found %d import errors:", len(errs))}
	maxDetailed := 3
	for i, err := range errs {
		if i == maxDetailed {
			lines = append(lines, "", fmt.Sprintf("... and %d more errors", len(errs)-maxDetailed))
			break
		}
		lines = append(lines, "", err.GetDetailedError())
	}
	return strings.Join(lines, "\n")
}
