package matcher

import (
	"testing"

	"instrument-verification-service/internal/models"
)

func TestNormalizeAmount(t *testing.T) {
	tests := []struct {
		input  string
		want   string
		wantOK bool
	}{
		{"1,500,000", "1500000", true},
		{"۱٬۵۰۰٬۰۰۰", "1500000", true},
		{"0001500000", "1500000", true},
		{"000", "0", true},
		{"1 500 000 ریال", "1500000", true},
		{"", "", false},
		{"n/a", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := NormalizeAmount(tt.input)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("NormalizeAmount(%q) = %q, %v; want %q, %v", tt.input, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestMatches(t *testing.T) {
	tests := []struct {
		name                     string
		declaredAmt, reportedAmt string
		declaredDue, reportedDue string
		want                     bool
	}{
		{"separators ignored", "1,500,000", "1500000", "14040101", "14040101", true},
		{"amount off by one", "1500000", "1500001", "14040101", "14040101", false},
		{"persian digits both sides", "۱,۵۰۰,۰۰۰", "1500000", "۱۴۰۴/۰۱/۰۱", "1404-01-01", true},
		{"leading zeros", "01500000", "1500000", "14040101", "14040101", true},
		{"date differs", "1500000", "1500000", "14040101", "14040102", false},
		{"both differ", "1", "2", "14040101", "14040102", false},
		{"missing reported amount", "1500000", "", "14040101", "14040101", false},
		{"missing declared amount", "", "1500000", "14040101", "14040101", false},
		{"malformed reported date", "1500000", "1500000", "14040101", "1404/1/1", false},
		{"missing declared date", "1500000", "1500000", "", "14040101", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Matches(tt.declaredAmt, tt.reportedAmt, tt.declaredDue, tt.reportedDue)
			if got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
			if again := Matches(tt.declaredAmt, tt.reportedAmt, tt.declaredDue, tt.reportedDue); again != got {
				t.Errorf("Matches() not stable: %v then %v", got, again)
			}
		})
	}
}

func TestReconcileRecord(t *testing.T) {
	pending := &models.PaymentRecord{ID: 1, Amount: "100", DueDate: "14040101"}
	match := &models.PaymentRecord{ID: 2, Amount: "1,000", DueDate: "1404/01/01",
		ReportedAmount: "1000", ReportedDueDate: "14040101"}
	mismatch := &models.PaymentRecord{ID: 3, Amount: "1,000", DueDate: "1404/01/01",
		ReportedAmount: "1000", ReportedDueDate: "14040201"}

	if got := ReconcileRecord(pending); got != VerdictPending {
		t.Errorf("expected pending, got %s", got)
	}
	if got := ReconcileRecord(match); got != VerdictMatch {
		t.Errorf("expected match, got %s", got)
	}
	if got := ReconcileRecord(mismatch); got != VerdictMismatch {
		t.Errorf("expected mismatch, got %s", got)
	}
	if got := ReconcileRecord(nil); got != VerdictPending {
		t.Errorf("expected pending for nil, got %s", got)
	}

	verdicts, summary := Summarize([]*models.PaymentRecord{pending, match, mismatch})
	if verdicts[2] != VerdictMatch || verdicts[3] != VerdictMismatch {
		t.Errorf("unexpected verdicts %v", verdicts)
	}
	if summary.Total != 3 || summary.Matched != 1 || summary.Mismatched != 1 || summary.Pending != 1 {
		t.Errorf("unexpected summary %+v", summary)
	}
	if summary.TotalAmountMatched.String() != "1000" {
		t.Errorf("expected matched total 1000, got %s", summary.TotalAmountMatched)
	}
}

func TestVerdictLabel(t *testing.T) {
	if VerdictMatch.Label() != "terms match" || VerdictMismatch.Label() != "terms do not match" {
		t.Error("unexpected labels")
	}
}
