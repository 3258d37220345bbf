// Package ras computes the amount-weighted due date ("Ras") of a set of
// payment instruments.
package ras

import (
	"strings"

	"instrument-verification-service/internal/dates"
	"instrument-verification-service/internal/models"
	"instrument-verification-service/pkg/errors"

	"github.com/shopspring/decimal"
)

// Item is one weighted day. Weight is the instrument amount and DayOfYear the
// ordinal day in the local calendar supplied with the record.
type Item struct {
	Weight    string `json:"weight" yaml:"weight"`
	DayOfYear string `json:"day_of_year" yaml:"day_of_year"`
}

// DebtEntry is one line of a customer's debt schedule
type DebtEntry struct {
	Description string `json:"description,omitempty" yaml:"description"`
	Amount      string `json:"amount" yaml:"amount"`
	DayOfYear   string `json:"day_of_year" yaml:"day_of_year"`
}

// Summary describes the result of a Ras computation
type Summary struct {
	Count       int             `json:"count"`
	TotalWeight decimal.Decimal `json:"total_weight"`
	WeightedDay *int64          `json:"weighted_day"`
}

// WeightedDueDate returns floor(Σ weight·day / Σ weight). It returns nil when
// the total weight is zero, including for an empty item list.
func WeightedDueDate(items []Item) (*int64, error) {
	summary, err := Summarize(items)
	if err != nil {
		return nil, err
	}
	return summary.WeightedDay, nil
}

// Summarize computes the weighted day together with count and total weight
func Summarize(items []Item) (*Summary, error) {
	total := decimal.Zero
	weighted := decimal.Zero

	for i, item := range items {
		weight, err := parseNumber(item.Weight)
		if err != nil {
			return nil, errors.ValidationError(errors.CodeInvalidAmount, "weight", item.Weight, err).
				WithContext("item", i)
		}
		day, err := parseNumber(item.DayOfYear)
		if err != nil {
			return nil, errors.ValidationError(errors.CodeInvalidData, "day_of_year", item.DayOfYear, err).
				WithContext("item", i)
		}
		total = total.Add(weight)
		weighted = weighted.Add(weight.Mul(day))
	}

	summary := &Summary{Count: len(items), TotalWeight: total}
	if total.IsZero() {
		return summary, nil
	}

	day := floorDiv(weighted, total)
	summary.WeightedDay = &day
	return summary, nil
}

// floorDiv divides exactly and rounds toward negative infinity
func floorDiv(num, den decimal.Decimal) int64 {
	q, r := num.QuoRem(den, 0)
	if !r.IsZero() && r.Sign() != den.Sign() {
		q = q.Sub(decimal.NewFromInt(1))
	}
	return q.IntPart()
}

// FromRecords builds items from payment records using amount and day of year
func FromRecords(records []*models.PaymentRecord) []Item {
	items := make([]Item, 0, len(records))
	for _, r := range records {
		items = append(items, Item{Weight: r.Amount, DayOfYear: r.DayOfYear})
	}
	return items
}

// DebtSchedule aggregates debt entries with the same weighting as payments
func DebtSchedule(entries []DebtEntry) (*Summary, error) {
	items := make([]Item, 0, len(entries))
	for _, e := range entries {
		items = append(items, Item{Weight: e.Amount, DayOfYear: e.DayOfYear})
	}
	return Summarize(items)
}

func parseNumber(s string) (decimal.Decimal, error) {
	if strings.TrimSpace(s) == "" {
		return decimal.Zero, nil
	}
	return models.ParseAmount(dates.TranslateDigits(s))
}
