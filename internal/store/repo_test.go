package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"instrument-verification-service/internal/dates"
	"instrument-verification-service/internal/models"
	pkgerrors "instrument-verification-service/pkg/errors"
)

func newTestRepo(t *testing.T) *Repo {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "records.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db)
}

func seed(t *testing.T, repo *Repo, recs ...*models.PaymentRecord) []int64 {
	t.Helper()
	ids := make([]int64, 0, len(recs))
	for _, rec := range recs {
		id, err := repo.InsertRecord(context.Background(), rec)
		if err != nil {
			t.Fatalf("InsertRecord() error = %v", err)
		}
		ids = append(ids, id)
	}
	return ids
}

func TestMigrateIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	db.Close()

	db, err = Open(path)
	if err != nil {
		t.Fatalf("second Open() error = %v", err)
	}
	defer db.Close()

	var version int
	if err := db.QueryRow(`SELECT version FROM schema_version`).Scan(&version); err != nil {
		t.Fatalf("read schema_version: %v", err)
	}
	if version != 1 {
		t.Errorf("expected schema version 1, got %d", version)
	}
}

func TestInsertAndGetRecord(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	ids := seed(t, repo, &models.PaymentRecord{
		CustomerID: 7, Kind: models.KindCheck, SerialNumber: "SN-1",
		Amount: "۱,۵۰۰,۰۰۰", DueDate: "۱۴۰۴/۰۷/۲۵", DayOfYear: "211",
	})

	rec, err := repo.GetRecord(ctx, ids[0])
	if err != nil {
		t.Fatalf("GetRecord() error = %v", err)
	}
	if rec.Amount != "۱,۵۰۰,۰۰۰" || rec.DueDate != "۱۴۰۴/۰۷/۲۵" {
		t.Errorf("expected native digits to round-trip, got %s", rec)
	}
	if rec.Status != models.StatusPendingExpert {
		t.Errorf("expected default status, got %s", rec.Status)
	}
	if rec.Verification != models.VerificationUnset {
		t.Errorf("expected unset flag, got %s", rec.Verification)
	}
	if rec.CreatedAt.IsZero() {
		t.Error("expected created_at to be set")
	}

	if _, err := repo.GetRecord(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestInsertRecordRejectsBadIdentity(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.InsertRecord(context.Background(), &models.PaymentRecord{CustomerID: 1, Kind: "wire"})
	if !pkgerrors.HasCode(err, pkgerrors.CodeOutOfRange) {
		t.Errorf("expected out of range error, got %v", err)
	}

	// Missing amount is allowed; the record is simply not eligible yet.
	if _, err := repo.InsertRecord(context.Background(), &models.PaymentRecord{CustomerID: 1, Kind: models.KindCash}); err != nil {
		t.Errorf("expected incomplete record to be stored, got %v", err)
	}
}

func TestListRecords(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seed(t, repo,
		&models.PaymentRecord{CustomerID: 1, Kind: models.KindCheck, Amount: "10", DueDate: "1404/01/10"},
		&models.PaymentRecord{CustomerID: 1, Kind: models.KindCheck, Amount: "20", DueDate: "۱۴۰۴/۰۳/۱۰"},
		&models.PaymentRecord{CustomerID: 1, Kind: models.KindCash, Amount: "30", DueDate: ""},
		&models.PaymentRecord{CustomerID: 2, Kind: models.KindCheck, Amount: "40", DueDate: "1404/02/01"},
	)

	tests := []struct {
		name   string
		filter models.RecordFilter
		want   int
	}{
		{"all", models.RecordFilter{}, 4},
		{"by customer", models.RecordFilter{CustomerID: 1}, 3},
		{"by ids", models.RecordFilter{IDs: []int64{1, 4}}, 2},
		{"due range", models.RecordFilter{CustomerID: 1, DueRange: []dates.CalendarDate{{Year: 1404, Month: 1, Day: 1}, {Year: 1404, Month: 2, Day: 31}}}, 1},
		{"due range drops undated", models.RecordFilter{DueRange: []dates.CalendarDate{{Year: 1404, Month: 1, Day: 1}, {Year: 1404, Month: 12, Day: 29}}}, 3},
		{"single day", models.RecordFilter{DueRange: []dates.CalendarDate{{Year: 1404, Month: 3, Day: 10}}}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.ListRecords(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListRecords() error = %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("expected %d records, got %d", tt.want, len(got))
			}
		})
	}

	unset := models.VerificationUnset
	got, err := repo.ListRecords(ctx, models.RecordFilter{Flag: &unset})
	if err != nil || len(got) != 4 {
		t.Errorf("expected 4 unset records, got %d, %v", len(got), err)
	}
}

func TestTransitionVerification(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	ids := seed(t, repo, &models.PaymentRecord{CustomerID: 1, Kind: models.KindCheck, Amount: "10", DueDate: "14040110"})
	id := ids[0]

	if err := repo.TransitionVerification(ctx, id, models.VerificationUnset, models.VerificationUpdate{Flag: models.VerificationPending}); err != nil {
		t.Fatalf("unset -> pending: %v", err)
	}
	// A second writer that still believes the record is unset loses.
	err := repo.TransitionVerification(ctx, id, models.VerificationUnset, models.VerificationUpdate{Flag: models.VerificationPending})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}

	err = repo.TransitionVerification(ctx, id, models.VerificationPending, models.VerificationUpdate{
		Flag: models.VerificationConfirmed, ReportedAmount: "10", ReportedDueDate: "14040110",
	})
	if err != nil {
		t.Fatalf("pending -> confirmed: %v", err)
	}

	rec, _ := repo.GetRecord(ctx, id)
	if rec.Verification != models.VerificationConfirmed || rec.ReportedAmount != "10" {
		t.Errorf("unexpected record after confirm: %s", rec)
	}

	if err := repo.TransitionVerification(ctx, id, models.VerificationConfirmed, models.VerificationUpdate{Flag: models.VerificationPending}); err == nil {
		t.Error("expected confirmed -> pending to be refused")
	}
	if err := repo.TransitionVerification(ctx, 999, models.VerificationUnset, models.VerificationUpdate{Flag: models.VerificationPending}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestClearError(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	ids := seed(t, repo, &models.PaymentRecord{
		CustomerID: 1, Kind: models.KindCheck, Amount: "10", DueDate: "14040110",
		Verification: models.VerificationRejected, VerificationError: "timeout",
	})

	cleared, err := repo.ClearError(ctx, ids[0])
	if err != nil || !cleared {
		t.Fatalf("ClearError() = %v, %v", cleared, err)
	}
	rec, _ := repo.GetRecord(ctx, ids[0])
	if rec.HasUnresolvedError() || rec.Verification != models.VerificationUnset {
		t.Errorf("expected clean record, got %s error=%q", rec, rec.VerificationError)
	}

	cleared, err = repo.ClearError(ctx, ids[0])
	if err != nil || cleared {
		t.Errorf("second ClearError() = %v, %v; want false, nil", cleared, err)
	}
	if _, err := repo.ClearError(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateStatus(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	ids := seed(t, repo, &models.PaymentRecord{CustomerID: 1, Kind: models.KindCheck})

	if err := repo.UpdateStatus(ctx, ids[0], models.StatusFinalConfirmed); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	if err := repo.UpdateStatus(ctx, ids[0], "archived"); err == nil {
		t.Error("expected invalid status to fail")
	}
	if err := repo.UpdateStatus(ctx, 999, models.StatusFinalConfirmed); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLoadRecordsFile(t *testing.T) {
	doc := `records:
  - customer_id: 1
    kind: check
    amount: "1,500,000"
    due_date: "۱۴۰۴/۰۷/۲۵"
    day_of_year: "211"
  - customer_id: 1
    kind: cash
    amount: ""
    due_date: "1404/07/01"
  - customer_id: 2
    kind: check
    amount: "900"
    due_date: "1404/7/1"
`
	path := filepath.Join(t.TempDir(), "records.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	recs, importErrs, err := LoadRecordsFile(path)
	if err != nil {
		t.Fatalf("LoadRecordsFile() error = %v", err)
	}
	if len(recs) != 1 {
		t.Errorf("expected 1 valid record, got %d", len(recs))
	}
	if len(importErrs) != 2 {
		t.Fatalf("expected 2 import errors, got %d", len(importErrs))
	}
	if importErrs[0].Code != pkgerrors.CodeMissingField || importErrs[0].Entry.Entry != 2 {
		t.Errorf("unexpected first error: %v", importErrs[0])
	}
	if importErrs[1].Code != pkgerrors.CodeInvalidDate || importErrs[1].Entry.Field != "due_date" {
		t.Errorf("unexpected second error: %v", importErrs[1])
	}

	repo := newTestRepo(t)
	ids, err := repo.ImportRecords(context.Background(), recs)
	if err != nil || len(ids) != 1 {
		t.Errorf("ImportRecords() = %v, %v", ids, err)
	}
}

func TestLoadRecordsFileErrors(t *testing.T) {
	_, _, err := LoadRecordsFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if !pkgerrors.HasCode(err, pkgerrors.CodeFileNotFound) {
		t.Errorf("expected file not found, got %v", err)
	}

	_, _, err = DecodeRecords("inline", []byte("records:\n  - unknown_field: 1\n"))
	if !pkgerrors.HasCode(err, pkgerrors.CodeInvalidFormat) {
		t.Errorf("expected invalid format for unknown field, got %v", err)
	}
}
