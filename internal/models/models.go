package models

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"instrument-verification-service/internal/dates"
	"instrument-verification-service/pkg/errors"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// InstrumentKind is the type of payment instrument
type InstrumentKind string

const (
	KindCheck InstrumentKind = "check"
	KindCash  InstrumentKind = "cash"
)

// IsValid checks if the instrument kind is valid
func (k InstrumentKind) IsValid() bool {
	return k == KindCheck || k == KindCash
}

// Status is the approval stage of an instrument
type Status string

const (
	StatusPendingExpert    Status = "pending_expert"
	StatusPendingTreasury  Status = "pending_treasury"
	StatusRejectedExpert   Status = "rejected_expert"
	StatusRejectedTreasury Status = "rejected_treasury"
	StatusFinalConfirmed   Status = "final_confirmed"
)

// IsValid checks if the status is one of the known stages
func (s Status) IsValid() bool {
	switch s {
	case StatusPendingExpert, StatusPendingTreasury, StatusRejectedExpert,
		StatusRejectedTreasury, StatusFinalConfirmed:
		return true
	}
	return false
}

// VerificationFlag is the outcome of registry verification for a record
type VerificationFlag string

const (
	VerificationUnset     VerificationFlag = ""
	VerificationPending   VerificationFlag = "pending"
	VerificationConfirmed VerificationFlag = "confirmed"
	VerificationRejected  VerificationFlag = "rejected"
)

// String returns a printable flag; the unset flag prints as "unset"
func (f VerificationFlag) String() string {
	if f == VerificationUnset {
		return "unset"
	}
	return string(f)
}

// IsValid checks if the flag is known
func (f VerificationFlag) IsValid() bool {
	switch f {
	case VerificationUnset, VerificationPending, VerificationConfirmed, VerificationRejected:
		return true
	}
	return false
}

// CanTransition reports whether the flag may move to next. Clearing (back to
// unset) is allowed from pending and rejected only.
func (f VerificationFlag) CanTransition(next VerificationFlag) bool {
	switch f {
	case VerificationUnset:
		return next == VerificationPending
	case VerificationPending:
		return next == VerificationConfirmed || next == VerificationRejected || next == VerificationUnset
	case VerificationRejected:
		return next == VerificationUnset
	default:
		return false
	}
}

// ParseVerificationFlag parses a stored flag; "unset" and "" are equivalent
func ParseVerificationFlag(s string) (VerificationFlag, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "unset" {
		return VerificationUnset, nil
	}
	f := VerificationFlag(s)
	if !f.IsValid() {
		return "", fmt.Errorf("invalid verification flag '%s'", s)
	}
	return f, nil
}

// PaymentRecord is one check or cash instrument belonging to a customer
type PaymentRecord struct {
	ID                int64            `json:"id" yaml:"id"`
	CustomerID        int64            `json:"customer_id" yaml:"customer_id" validate:"gt=0"`
	Kind              InstrumentKind   `json:"kind" yaml:"kind" validate:"oneof=check cash"`
	SerialNumber      string           `json:"serial_number,omitempty" yaml:"serial_number"`
	Amount            string           `json:"amount" yaml:"amount" validate:"required,has_digits"`
	DueDate           string           `json:"due_date" yaml:"due_date" validate:"required,local_date"`
	DayOfYear         string           `json:"day_of_year,omitempty" yaml:"day_of_year"`
	Status            Status           `json:"status" yaml:"status"`
	Verification      VerificationFlag `json:"verification" yaml:"verification"`
	ReportedAmount    string           `json:"reported_amount,omitempty" yaml:"reported_amount"`
	ReportedDueDate   string           `json:"reported_due_date,omitempty" yaml:"reported_due_date"`
	VerificationError string           `json:"verification_error,omitempty" yaml:"verification_error"`
	CreatedAt         time.Time        `json:"created_at" yaml:"-"`
	UpdatedAt         time.Time        `json:"updated_at" yaml:"-"`
}

// VerificationUpdate carries the fields written when a verification attempt
// starts or settles. Reported values are written only when non-empty.
type VerificationUpdate struct {
	Flag            VerificationFlag
	Error           string
	ReportedAmount  string
	ReportedDueDate string
}

// RecordFilter selects records for listing. Zero values do not filter.
type RecordFilter struct {
	CustomerID int64
	IDs        []int64
	DueRange   []dates.CalendarDate
	Flag       *VerificationFlag
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterValidation("has_digits", func(fl validator.FieldLevel) bool {
			return dates.DigitsOnly(fl.Field().String()) != ""
		})
		validate.RegisterValidation("local_date", func(fl validator.FieldLevel) bool {
			_, ok := dates.Normalize(fl.Field().String(), false)
			return ok
		})
	})
	return validate
}

// Validate checks the whole record, as done when records are imported
func (r *PaymentRecord) Validate() error {
	if err := getValidator().Struct(r); err != nil {
		return translateValidationError(err)
	}
	if r.Status != "" && !r.Status.IsValid() {
		return errors.ValidationError(errors.CodeOutOfRange, "status", r.Status, nil)
	}
	if !r.Verification.IsValid() {
		return errors.ValidationError(errors.CodeOutOfRange, "verification", r.Verification, nil)
	}
	return nil
}

// ValidateIdentity checks the fields every stored record needs. Amount and due
// date may still be missing; such a record exists but cannot be verified.
func (r *PaymentRecord) ValidateIdentity() error {
	if err := getValidator().StructPartial(r, "CustomerID", "Kind"); err != nil {
		return translateValidationError(err)
	}
	return nil
}

// ValidateEligibility checks that the record carries the amount and due date
// needed before it can be sent to the registry
func (r *PaymentRecord) ValidateEligibility() error {
	if err := getValidator().StructPartial(r, "Amount", "DueDate"); err != nil {
		return translateValidationError(err)
	}
	return nil
}

// HasUnresolvedError reports whether a previous verification left an error
// that nobody has cleared yet
func (r *PaymentRecord) HasUnresolvedError() bool {
	return strings.TrimSpace(r.VerificationError) != ""
}

// IsVerified reports whether registry values are available for reconciliation
func (r *PaymentRecord) IsVerified() bool {
	return r.ReportedAmount != "" || r.ReportedDueDate != ""
}

// AmountDecimal parses the declared amount after dropping separators
func (r *PaymentRecord) AmountDecimal() (decimal.Decimal, error) {
	return ParseAmount(r.Amount)
}

// String returns a string representation of the PaymentRecord
func (r *PaymentRecord) String() string {
	return fmt.Sprintf("PaymentRecord{ID: %d, Customer: %d, Kind: %s, Amount: %s, Due: %s, Verification: %s}",
		r.ID, r.CustomerID, r.Kind, r.Amount, r.DueDate, r.Verification)
}

// ParseAmount converts a declared amount string into a decimal. Native digits
// are translated and grouping separators removed; a decimal point is kept.
func ParseAmount(s string) (decimal.Decimal, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ',', '٬', '،', ' ', '_':
			return -1
		case '٫':
			return '.'
		}
		return r
	}, dates.TranslateDigits(strings.TrimSpace(s)))

	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount format '%s': %w", s, err)
	}
	return d, nil
}

func translateValidationError(err error) error {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok || len(validationErrors) == 0 {
		return errors.Wrap(err, errors.CategoryValidation, errors.CodeInvalidData, "record validation failed")
	}

	fe := validationErrors[0]
	field := jsonFieldName(fe.Field())
	switch fe.Tag() {
	case "required":
		return errors.ValidationError(errors.CodeMissingField, field, fe.Value(), err)
	case "has_digits":
		return errors.ValidationError(errors.CodeInvalidAmount, field, fe.Value(), err)
	case "local_date":
		return errors.ValidationError(errors.CodeInvalidDate, field, fe.Value(), err)
	default:
		return errors.ValidationError(errors.CodeOutOfRange, field, fe.Value(), err)
	}
}

func jsonFieldName(field string) string {
	switch field {
	case "CustomerID":
		return "customer_id"
	case "DueDate":
		return "due_date"
	case "DayOfYear":
		return "day_of_year"
	default:
		return strings.ToLower(field)
	}
}
