// Package store persists payment records in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"instrument-verification-service/internal/dates"
	"instrument-verification-service/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict means the record's verification flag changed underneath a
	// conditional update.
	ErrConflict = errors.New("verification state changed")
)

type Repo struct {
	DB  *sql.DB
	Now func() time.Time
}

// New returns a repo on db
func New(db *sql.DB) *Repo {
	return &Repo{DB: db, Now: time.Now}
}

const recordColumns = `id,customer_id,kind,serial_number,amount,due_date,day_of_year,status,verification,reported_amount,reported_due_date,verification_error,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.PaymentRecord, error) {
	var r models.PaymentRecord
	var kind, status, flag, createdAt, updatedAt string
	err := row.Scan(&r.ID, &r.CustomerID, &kind, &r.SerialNumber, &r.Amount, &r.DueDate, &r.DayOfYear,
		&status, &flag, &r.ReportedAmount, &r.ReportedDueDate, &r.VerificationError, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Kind = models.InstrumentKind(kind)
	r.Status = models.Status(status)
	r.Verification = models.VerificationFlag(flag)
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	r.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &r, nil
}

func (r *Repo) now() string {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	return now().UTC().Format(time.RFC3339Nano)
}

// InsertRecord stores rec and returns its identifier. A zero ID lets SQLite
// assign one.
func (r *Repo) InsertRecord(ctx context.Context, rec *models.PaymentRecord) (int64, error) {
	return r.insert(ctx, r.DB, rec)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *Repo) insert(ctx context.Context, db execer, rec *models.PaymentRecord) (int64, error) {
	if err := rec.ValidateIdentity(); err != nil {
		return 0, err
	}
	status := rec.Status
	if status == "" {
		status = models.StatusPendingExpert
	}
	var id any
	if rec.ID > 0 {
		id = rec.ID
	}
	ts := r.now()
	res, err := db.ExecContext(ctx, `INSERT INTO payment_records(`+recordColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		id, rec.CustomerID, string(rec.Kind), rec.SerialNumber, rec.Amount, rec.DueDate, rec.DayOfYear,
		string(status), string(rec.Verification), rec.ReportedAmount, rec.ReportedDueDate, rec.VerificationError, ts, ts)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ImportRecords inserts all records in one transaction
func (r *Repo) ImportRecords(ctx context.Context, recs []*models.PaymentRecord) ([]int64, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	ids := make([]int64, 0, len(recs))
	for i, rec := range recs {
		id, err := r.insert(ctx, tx, rec)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i+1, err)
		}
		ids = append(ids, id)
	}
	return ids, tx.Commit()
}

func (r *Repo) GetRecord(ctx context.Context, id int64) (*models.PaymentRecord, error) {
	return scanRecord(r.DB.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM payment_records WHERE id=?`, id))
}

// ListRecords returns records matching filter ordered by id. The due date
// range is applied after loading because stored dates keep the digits and
// separators they were typed with.
func (r *Repo) ListRecords(ctx context.Context, filter models.RecordFilter) ([]*models.PaymentRecord, error) {
	var (
		where []string
		args  []any
	)
	if filter.CustomerID > 0 {
		where = append(where, "customer_id=?")
		args = append(args, filter.CustomerID)
	}
	if len(filter.IDs) > 0 {
		placeholders := make([]string, len(filter.IDs))
		for i, id := range filter.IDs {
			placeholders[i] = "?"
			args = append(args, id)
		}
		where = append(where, "id IN ("+strings.Join(placeholders, ",")+")")
	}
	if filter.Flag != nil {
		where = append(where, "verification=?")
		args = append(args, string(*filter.Flag))
	}

	query := `SELECT ` + recordColumns + ` FROM payment_records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*models.PaymentRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		if !dates.InRange(rec.DueDate, filter.DueRange, false) {
			continue
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// TransitionVerification writes u only if the record's flag is still from.
// It returns ErrConflict when another writer moved the flag first.
func (r *Repo) TransitionVerification(ctx context.Context, id int64, from models.VerificationFlag, u models.VerificationUpdate) error {
	if !from.CanTransition(u.Flag) {
		return fmt.Errorf("invalid verification transition %s -> %s", from, u.Flag)
	}
	res, err := r.DB.ExecContext(ctx, `UPDATE payment_records SET
		verification=?,
		verification_error=?,
		reported_amount=CASE WHEN ?='' THEN reported_amount ELSE ? END,
		reported_due_date=CASE WHEN ?='' THEN reported_due_date ELSE ? END,
		updated_at=?
		WHERE id=? AND verification=?`,
		string(u.Flag), u.Error,
		u.ReportedAmount, u.ReportedAmount,
		u.ReportedDueDate, u.ReportedDueDate,
		r.now(), id, string(from))
	if err != nil {
		return err
	}
	return r.checkAffected(ctx, res, id)
}

// ClearError resets a pending or rejected record to unset with no error text.
// It reports whether anything changed.
func (r *Repo) ClearError(ctx context.Context, id int64) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE payment_records SET verification='', verification_error='', updated_at=?
		WHERE id=? AND verification IN ('pending','rejected')`, r.now(), id)
	if err != nil {
		return false, err
	}
	if err := r.checkAffected(ctx, res, id); err != nil {
		if errors.Is(err, ErrConflict) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// UpdateStatus records a downstream approval decision
func (r *Repo) UpdateStatus(ctx context.Context, id int64, status models.Status) error {
	if !status.IsValid() {
		return fmt.Errorf("invalid status %q", status)
	}
	res, err := r.DB.ExecContext(ctx, `UPDATE payment_records SET status=?, updated_at=? WHERE id=?`, string(status), r.now(), id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repo) checkAffected(ctx context.Context, res sql.Result, id int64) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	var exists int
	err = r.DB.QueryRowContext(ctx, `SELECT 1 FROM payment_records WHERE id=?`, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrConflict
}
