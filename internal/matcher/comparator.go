// Package matcher decides whether a verified instrument agrees with the terms
// it was declared with.
//
// A record is declared by an operator (amount and due date as typed, with
// grouping separators and native digits) and later verified by the check
// registry, which reports its own amount and due date. Both sides are
// normalized before comparison:
//   - amounts keep their digits only and are re-serialized without leading zeros
//   - due dates are reduced to YYYYMMDD keys by the dates package
//
// The comparison is binary. An amount that agrees with a date that does not is
// a mismatch, as is any value that cannot be normalized.
//
// Example usage:
//
//	matcher.Matches("1,500,000", "1500000", "1404/01/01", "14040101") // true
//
//	verdict := matcher.ReconcileRecord(record)
//	if verdict == matcher.VerdictMismatch {
//		// show "terms do not match"
//	}
package matcher

import (
	"strings"

	"instrument-verification-service/internal/dates"
	"instrument-verification-service/internal/models"

	"github.com/shopspring/decimal"
)

// Verdict is the display outcome for one record
type Verdict string

const (
	// VerdictPending means the registry has not reported values yet
	VerdictPending  Verdict = "pending"
	VerdictMatch    Verdict = "match"
	VerdictMismatch Verdict = "mismatch"
)

// Label returns the operator-facing text for the verdict
func (v Verdict) Label() string {
	switch v {
	case VerdictMatch:
		return "terms match"
	case VerdictMismatch:
		return "terms do not match"
	default:
		return "awaiting verification"
	}
}

// NormalizeAmount keeps the digits of s and drops leading zeros. The second
// result is false when s has no digits.
func NormalizeAmount(s string) (string, bool) {
	digits := dates.DigitsOnly(s)
	if digits == "" {
		return "", false
	}
	trimmed := strings.TrimLeft(digits, "0")
	if trimmed == "" {
		return "0", true
	}
	return trimmed, true
}

// Matches reports whether declared and reported terms agree. It never fails;
// values that cannot be normalized simply do not match.
func Matches(declaredAmount, reportedAmount, declaredDue, reportedDue string) bool {
	a, ok := NormalizeAmount(declaredAmount)
	if !ok {
		return false
	}
	b, ok := NormalizeAmount(reportedAmount)
	if !ok {
		return false
	}

	d1, ok := dates.Normalize(declaredDue, false)
	if !ok {
		return false
	}
	d2, ok := dates.Normalize(reportedDue, false)
	if !ok {
		return false
	}

	return a == b && d1 == d2
}

// ReconcileRecord compares a record's declared terms with what the registry
// reported for it
func ReconcileRecord(r *models.PaymentRecord) Verdict {
	if r == nil || !r.IsVerified() {
		return VerdictPending
	}
	if Matches(r.Amount, r.ReportedAmount, r.DueDate, r.ReportedDueDate) {
		return VerdictMatch
	}
	return VerdictMismatch
}

// ReconciliationSummary provides aggregate statistics over a set of records
type ReconciliationSummary struct {
	Total                int             `json:"total"`
	Matched              int             `json:"matched"`
	Mismatched           int             `json:"mismatched"`
	Pending              int             `json:"pending"`
	TotalAmountMatched   decimal.Decimal `json:"total_amount_matched"`
	TotalAmountUnmatched decimal.Decimal `json:"total_amount_unmatched"`
}

// Summarize reconciles every record and tallies the verdicts. Amounts that do
// not parse are left out of the totals.
func Summarize(records []*models.PaymentRecord) (map[int64]Verdict, ReconciliationSummary) {
	verdicts := make(map[int64]Verdict, len(records))
	summary := ReconciliationSummary{
		Total:                len(records),
		TotalAmountMatched:   decimal.Zero,
		TotalAmountUnmatched: decimal.Zero,
	}

	for _, r := range records {
		v := ReconcileRecord(r)
		verdicts[r.ID] = v

		amount, err := r.AmountDecimal()
		if err != nil {
			amount = decimal.Zero
		}

		switch v {
		case VerdictMatch:
			summary.Matched++
			summary.TotalAmountMatched = summary.TotalAmountMatched.Add(amount)
		case VerdictMismatch:
			summary.Mismatched++
			summary.TotalAmountUnmatched = summary.TotalAmountUnmatched.Add(amount)
		default:
			summary.Pending++
		}
	}

	return verdicts, summary
}
