package errors

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryFile          ErrorCategory = "file"
	CategoryParse         ErrorCategory = "parse"
	CategoryValidation    ErrorCategory = "validation"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryVerification  ErrorCategory = "verification"
	CategoryNetwork       ErrorCategory = "network"
	CategoryStorage       ErrorCategory = "storage"
	CategoryInternal      ErrorCategory = "internal"
)

// ErrorCode represents specific error codes within categories
type ErrorCode string

const (
	// File errors
	CodeFileNotFound   ErrorCode = "file_not_found"
	CodeFilePermission ErrorCode = "file_permission"

	// Parse errors
	CodeInvalidFormat ErrorCode = "invalid_format"
	CodeInvalidData   ErrorCode = "invalid_data"

	// Validation errors
	CodeInvalidAmount ErrorCode = "invalid_amount"
	CodeInvalidDate   ErrorCode = "invalid_date"
	CodeMissingField  ErrorCode = "missing_field"
	CodeOutOfRange    ErrorCode = "out_of_range"

	// Configuration errors
	CodeInvalidConfig ErrorCode = "invalid_config"
	CodeMissingConfig ErrorCode = "missing_config"

	// Verification errors
	CodeServiceError     ErrorCode = "service_error"
	CodeTimeout          ErrorCode = "timeout"
	CodeAlreadyErrored   ErrorCode = "already_errored"
	CodeAlreadyConfirmed ErrorCode = "already_confirmed"
	CodeAlreadyInFlight  ErrorCode = "already_in_flight"
	CodeIneligible       ErrorCode = "ineligible"

	// Network errors
	CodeConnectionFailed   ErrorCode = "connection_failed"
	CodeServiceUnavailable ErrorCode = "service_unavailable"

	// Storage errors
	CodeRecordNotFound ErrorCode = "record_not_found"
	CodeStorageFailure ErrorCode = "storage_failure"

	// Internal errors
	CodeUnexpectedError ErrorCode = "unexpected_error"
)

// VerifierError is the base error type for all application errors
type VerifierError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context provides additional information about the error
type Context map[string]interface{}

// Error implements the error interface
func (e *VerifierError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", e.Message, e.Suggestion)
	}
	return e.Message
}

// Unwrap returns the underlying cause error
func (e *VerifierError) Unwrap() error {
	return e.Cause
}

// GetExitCode returns an appropriate exit code for the error
func (e *VerifierError) GetExitCode() int {
	switch e.Category {
	case CategoryFile:
		return 2
	case CategoryParse, CategoryValidation:
		return 3
	case CategoryConfiguration:
		return 4
	case CategoryVerification, CategoryInternal:
		return 5
	case CategoryNetwork:
		return 6
	case CategoryStorage:
		return 7
	default:
		return 1
	}
}

// WithContext adds context information to the error
func (e *VerifierError) WithContext(key string, value interface{}) *VerifierError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for fixing the error
func (e *VerifierError) WithSuggestion(suggestion string) *VerifierError {
	e.Suggestion = suggestion
	return e
}

// IsSkip reports whether the error marks a record that was left out of a batch
// rather than a record whose verification failed.
func (e *VerifierError) IsSkip() bool {
	switch e.Code {
	case CodeAlreadyErrored, CodeAlreadyConfirmed, CodeAlreadyInFlight, CodeIneligible:
		return true
	}
	return false
}

// New creates a new VerifierError
func New(category ErrorCategory, code ErrorCode, message string) *VerifierError {
	return &VerifierError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with VerifierError context
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *VerifierError {
	if err == nil {
		return nil
	}

	return &VerifierError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

func newOrWrap(err error, category ErrorCategory, code ErrorCode, message string) *VerifierError {
	if err != nil {
		return Wrap(err, category, code, message)
	}
	return New(category, code, message)
}

// FileError creates a file-related error
func FileError(code ErrorCode, path string, err error) *VerifierError {
	var message string
	var suggestion string

	switch code {
	case CodeFileNotFound:
		message = fmt.Sprintf("file not found: %s", path)
		suggestion = "check if the file path is correct and the file exists"
	case CodeFilePermission:
		message = fmt.Sprintf("permission denied accessing file: %s", path)
		suggestion = "check file permissions and ensure you have read access"
	default:
		message = fmt.Sprintf("file error: %s", path)
		suggestion = "check the file and try again"
	}

	return newOrWrap(err, CategoryFile, code, message).
		WithSuggestion(suggestion).
		WithContext("file_path", path)
}

// ParseError creates an error for an input document that could not be decoded
func ParseError(code ErrorCode, source string, entry int, err error) *VerifierError {
	var message string
	switch code {
	case CodeInvalidFormat:
		message = fmt.Sprintf("invalid format in %s", source)
	case CodeInvalidData:
		message = fmt.Sprintf("invalid data in %s at entry %d", source, entry)
	default:
		message = fmt.Sprintf("parse error in %s", source)
	}

	return newOrWrap(err, CategoryParse, code, message).
		WithSuggestion("check the document structure against the documented record fields").
		WithContext("source", source).
		WithContext("entry", entry)
}

// ValidationError creates a validation-related error
func ValidationError(code ErrorCode, field string, value interface{}, err error) *VerifierError {
	var message string
	var suggestion string

	switch code {
	case CodeInvalidAmount:
		message = fmt.Sprintf("invalid amount in field '%s': %v", field, value)
		suggestion = "amounts are digit strings, thousands separators are allowed (e.g., '1,500,000')"
	case CodeInvalidDate:
		message = fmt.Sprintf("invalid date in field '%s': %v", field, value)
		suggestion = "use an 8 digit local date such as 1404/07/25"
	case CodeMissingField:
		message = fmt.Sprintf("required field '%s' is missing or empty", field)
		suggestion = "provide a value for this required field"
	case CodeOutOfRange:
		message = fmt.Sprintf("value out of range in field '%s': %v", field, value)
		suggestion = "ensure the value is within the acceptable range"
	default:
		message = fmt.Sprintf("validation error in field '%s': %v", field, value)
		suggestion = "check the field value and format"
	}

	return newOrWrap(err, CategoryValidation, code, message).
		WithSuggestion(suggestion).
		WithContext("field", field).
		WithContext("value", value)
}

// ConfigurationError creates a configuration-related error
func ConfigurationError(code ErrorCode, setting string, value interface{}, err error) *VerifierError {
	var message string
	var suggestion string

	switch code {
	case CodeInvalidConfig:
		message = fmt.Sprintf("invalid configuration for '%s': %v", setting, value)
		suggestion = "check the configuration documentation for valid values"
	case CodeMissingConfig:
		message = fmt.Sprintf("missing required configuration: %s", setting)
		suggestion = "provide this configuration setting or use a config file"
	default:
		message = fmt.Sprintf("configuration error: %s", setting)
		suggestion = "check your configuration and try again"
	}

	return newOrWrap(err, CategoryConfiguration, code, message).
		WithSuggestion(suggestion).
		WithContext("setting", setting).
		WithContext("value", value)
}

// VerificationError creates an error scoped to a single record's verification attempt
func VerificationError(code ErrorCode, recordID int64, err error) *VerifierError {
	var message string
	var suggestion string

	switch code {
	case CodeServiceError:
		message = fmt.Sprintf("verification service rejected record %d", recordID)
		suggestion = "inspect the record's error, clear it and include the record in a new batch"
	case CodeTimeout:
		message = fmt.Sprintf("verification of record %d timed out", recordID)
		suggestion = "the registry did not answer in time; clear the error and retry later"
	case CodeAlreadyErrored:
		message = fmt.Sprintf("record %d carries an uncleared verification error", recordID)
		suggestion = "clear the record's error to make it eligible again"
	case CodeAlreadyConfirmed:
		message = fmt.Sprintf("record %d is already confirmed", recordID)
	case CodeAlreadyInFlight:
		message = fmt.Sprintf("record %d already has a verification in flight", recordID)
		suggestion = "wait for the current attempt to settle"
	case CodeIneligible:
		message = fmt.Sprintf("record %d is missing amount or due date", recordID)
		suggestion = "complete the record's amount and due date before verifying"
	default:
		message = fmt.Sprintf("verification error for record %d", recordID)
	}

	result := newOrWrap(err, CategoryVerification, code, message).
		WithContext("record_id", recordID)
	if suggestion != "" {
		result.WithSuggestion(suggestion)
	}
	return result
}

// NetworkError creates a network-related error
func NetworkError(code ErrorCode, endpoint string, err error) *VerifierError {
	var message string
	var suggestion string

	switch code {
	case CodeConnectionFailed:
		message = fmt.Sprintf("connection failed to %s", endpoint)
		suggestion = "check network connectivity and endpoint availability"
	case CodeServiceUnavailable:
		message = fmt.Sprintf("service unavailable: %s", endpoint)
		suggestion = "try again later or contact service administrator"
	default:
		message = fmt.Sprintf("network error: %s", endpoint)
		suggestion = "check network connection and try again"
	}

	return newOrWrap(err, CategoryNetwork, code, message).
		WithSuggestion(suggestion).
		WithContext("endpoint", endpoint)
}

// StorageError creates an error raised by the record store
func StorageError(code ErrorCode, operation string, err error) *VerifierError {
	var message string
	switch code {
	case CodeRecordNotFound:
		message = fmt.Sprintf("record not found during %s", operation)
	default:
		message = fmt.Sprintf("storage failure during %s", operation)
	}

	return newOrWrap(err, CategoryStorage, code, message).
		WithContext("operation", operation)
}

// InternalError creates an internal error
func InternalError(code ErrorCode, operation string, err error) *VerifierError {
	message := fmt.Sprintf("unexpected error during %s", operation)
	return newOrWrap(err, CategoryInternal, code, message).
		WithSuggestion("this is likely a bug - please report it with the error details").
		WithContext("operation", operation)
}

// ErrorSummary provides a summary of multiple errors
type ErrorSummary struct {
	Total        int                   `json:"total"`
	ByCategory   map[ErrorCategory]int `json:"by_category"`
	ByCode       map[ErrorCode]int     `json:"by_code"`
	Errors       []*VerifierError      `json:"errors"`
	SampleErrors []*VerifierError      `json:"sample_errors,omitempty"`
}

// NewErrorSummary creates a new error summary
func NewErrorSummary(errs []*VerifierError) *ErrorSummary {
	summary := &ErrorSummary{
		Total:      len(errs),
		ByCategory: make(map[ErrorCategory]int),
		ByCode:     make(map[ErrorCode]int),
		Errors:     errs,
	}
	if len(errs) == 0 {
		summary.Errors = []*VerifierError{}
		return summary
	}

	for _, err := range errs {
		summary.ByCategory[err.Category]++
		summary.ByCode[err.Code]++
	}

	maxSamples := 5
	if len(errs) > maxSamples {
		summary.SampleErrors = errs[:maxSamples]
	} else {
		summary.SampleErrors = errs
	}

	return summary
}

// Error returns a formatted error message for the summary
func (es *ErrorSummary) Error() string {
	if es.Total == 0 {
		return "no errors"
	}

	if es.Total == 1 {
		return es.Errors[0].Error()
	}

	var codes []string
	for code, count := range es.ByCode {
		codes = append(codes, fmt.Sprintf("%s: %d", code, count))
	}

	return fmt.Sprintf("%d errors occurred (%s)", es.Total, strings.Join(codes, ", "))
}

// HasCategory checks if the summary contains errors of the given category
func (es *ErrorSummary) HasCategory(category ErrorCategory) bool {
	return es.ByCategory[category] > 0
}

// HasCode checks if the summary contains errors with the given code
func (es *ErrorSummary) HasCode(code ErrorCode) bool {
	return es.ByCode[code] > 0
}

// GetExitCode returns the highest priority exit code from all errors
func (es *ErrorSummary) GetExitCode() int {
	if es.Total == 0 {
		return 0
	}

	maxCode := 1
	for _, err := range es.Errors {
		if code := err.GetExitCode(); code > maxCode {
			maxCode = code
		}
	}

	return maxCode
}

// IsVerifierError checks if an error is a VerifierError
func IsVerifierError(err error) bool {
	_, ok := err.(*VerifierError)
	return ok
}

// AsVerifierError extracts a VerifierError from an error chain
func AsVerifierError(err error) (*VerifierError, bool) {
	var verifierErr *VerifierError
	if errors.As(err, &verifierErr) {
		return verifierErr, true
	}
	return nil, false
}

// HasCode reports whether err carries a VerifierError with the given code
func HasCode(err error, code ErrorCode) bool {
	if verifierErr, ok := AsVerifierError(err); ok {
		return verifierErr.Code == code
	}
	return false
}

// WrapIfNeeded wraps an error if it's not already a VerifierError
func WrapIfNeeded(err error, category ErrorCategory, code ErrorCode, message string) *VerifierError {
	if err == nil {
		return nil
	}

	if verifierErr, ok := AsVerifierError(err); ok {
		return verifierErr
	}

	return Wrap(err, category, code, message)
}
