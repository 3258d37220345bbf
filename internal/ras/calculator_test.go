package ras

import (
	"testing"

	"instrument-verification-service/internal/models"
	"instrument-verification-service/pkg/errors"
)

func TestWeightedDueDate(t *testing.T) {
	tests := []struct {
		name  string
		items []Item
		want  *int64
	}{
		{"empty", nil, nil},
		{"zero weight", []Item{{Weight: "0", DayOfYear: "100"}}, nil},
		{"blank weight counts as zero", []Item{{Weight: "", DayOfYear: "100"}}, nil},
		{"weighted average", []Item{{"100", "10"}, {"300", "50"}}, int64Ptr(40)},
		{"floors", []Item{{"1", "10"}, {"1", "11"}}, int64Ptr(10)},
		{"single item", []Item{{"1,500,000", "211"}}, int64Ptr(211)},
		{"persian digits", []Item{{"۲۰۰", "۳۰"}, {"۲۰۰", "۶۰"}}, int64Ptr(45)},
		{"negative total floors down", []Item{{"-1", "10"}, {"-1", "11"}}, int64Ptr(10)},
		{"fractional weights", []Item{{"0.5", "100"}, {"0.25", "1"}}, int64Ptr(67)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := WeightedDueDate(tt.items)
			if err != nil {
				t.Fatalf("WeightedDueDate() error = %v", err)
			}
			switch {
			case tt.want == nil && got != nil:
				t.Errorf("WeightedDueDate() = %d, want nil", *got)
			case tt.want != nil && got == nil:
				t.Errorf("WeightedDueDate() = nil, want %d", *tt.want)
			case tt.want != nil && *got != *tt.want:
				t.Errorf("WeightedDueDate() = %d, want %d", *got, *tt.want)
			}
		})
	}
}

func TestWeightedDueDateWithinObservedSpan(t *testing.T) {
	items := []Item{{"700", "12"}, {"1", "300"}, {"50", "180"}, {"3", "299"}}
	got, err := WeightedDueDate(items)
	if err != nil || got == nil {
		t.Fatalf("WeightedDueDate() = %v, %v", got, err)
	}
	if *got < 12 || *got > 300 {
		t.Errorf("weighted day %d outside [12,300]", *got)
	}
}

func TestWeightedDueDateInvalidInput(t *testing.T) {
	_, err := WeightedDueDate([]Item{{"abc", "10"}})
	if !errors.HasCode(err, errors.CodeInvalidAmount) {
		t.Errorf("expected invalid amount error, got %v", err)
	}

	_, err = WeightedDueDate([]Item{{"10", "x"}})
	if !errors.HasCode(err, errors.CodeInvalidData) {
		t.Errorf("expected invalid data error, got %v", err)
	}
}

func TestFromRecordsAndDebtSchedule(t *testing.T) {
	records := []*models.PaymentRecord{
		{ID: 1, Amount: "100", DayOfYear: "10"},
		{ID: 2, Amount: "300", DayOfYear: "50"},
	}
	got, err := WeightedDueDate(FromRecords(records))
	if err != nil || got == nil || *got != 40 {
		t.Errorf("expected 40 from records, got %v, %v", got, err)
	}

	summary, err := DebtSchedule([]DebtEntry{
		{Description: "invoice 1", Amount: "100", DayOfYear: "10"},
		{Description: "invoice 2", Amount: "300", DayOfYear: "50"},
	})
	if err != nil {
		t.Fatalf("DebtSchedule() error = %v", err)
	}
	if summary.Count != 2 || summary.TotalWeight.String() != "400" {
		t.Errorf("unexpected summary %+v", summary)
	}
	if summary.WeightedDay == nil || *summary.WeightedDay != 40 {
		t.Errorf("expected weighted day 40, got %v", summary.WeightedDay)
	}
}

func int64Ptr(v int64) *int64 {
	return &v
}
