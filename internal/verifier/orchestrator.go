// Package verifier drives check-registry verification of payment records.
//
// An Orchestrator verifies one record at a time (VerifyOne) or a whole batch
// (VerifyBatch). Every attempt follows the same path:
//  1. the record is claimed locally so only one attempt per record runs
//  2. an optional distributed lock extends that guarantee across processes
//  3. the stored flag moves from unset to pending
//  4. the registry call races against the configured timeout
//  5. the outcome is written back and the customer's cached records dropped
//
// Batches dispatch their records with a fixed stagger between consecutive
// calls and finish once every dispatched record has settled, whether it
// succeeded or not. Records that cannot be verified right now (missing terms,
// already confirmed, uncleared error, attempt in flight) are skipped and
// listed on the session instead of failing it.
//
// Example usage:
//
//	orch, err := verifier.NewOrchestrator(repo, verifier.NewHTTPService(url), verifier.DefaultConfig(),
//		verifier.WithCache(recordCache), verifier.WithLocker(locker))
//
//	session := orch.VerifyBatch(ctx, []int64{1, 2, 3}, func(id int64, errText string) {
//		fmt.Println(id, errText)
//	})
//	summary, _ := session.Wait(ctx)
package verifier

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"instrument-verification-service/internal/models"
	"instrument-verification-service/internal/store"
	"instrument-verification-service/pkg/errors"
	"instrument-verification-service/pkg/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("instrument-verification-service/verifier")

// RecordStore is the persistence the orchestrator needs
type RecordStore interface {
	GetRecord(ctx context.Context, id int64) (*models.PaymentRecord, error)
	TransitionVerification(ctx context.Context, id int64, from models.VerificationFlag, u models.VerificationUpdate) error
	ClearError(ctx context.Context, id int64) (bool, error)
}

// CacheInvalidator drops cached record sets after a successful verification
type CacheInvalidator interface {
	InvalidateCustomer(ctx context.Context, customerID int64) error
}

// Locker grants a per-record lock shared with other processes
type Locker interface {
	Acquire(ctx context.Context, recordID int64) (release func(), err error)
}

// JobOutcome is the state of one verification attempt
type JobOutcome string

const (
	JobPending   JobOutcome = "pending"
	JobSucceeded JobOutcome = "succeeded"
	JobFailed    JobOutcome = "failed"
	JobTimedOut  JobOutcome = "timed_out"
)

// VerificationJob tracks one attempt while it is in flight. Only the attempt
// holding the current generation for a record may write its outcome.
type VerificationJob struct {
	RecordID      int64      `json:"record_id"`
	DispatchIndex int        `json:"dispatch_index"`
	Generation    uint64     `json:"generation"`
	StartedAt     time.Time  `json:"started_at"`
	Outcome       JobOutcome `json:"outcome"`
}

// Orchestrator coordinates verification attempts against a VerificationService
type Orchestrator struct {
	store   RecordStore
	service VerificationService
	cache   CacheInvalidator
	locker  Locker
	config  *Config
	logger  logger.Logger

	mu         sync.Mutex
	jobs       map[int64]*VerificationJob
	generation uint64

	sessionsMu   sync.Mutex
	sessions     map[string]*BatchSession
	sessionOrder []string
}

// Option configures optional collaborators
type Option func(*Orchestrator)

// WithCache sets the cache invalidated after successful verifications
func WithCache(c CacheInvalidator) Option {
	return func(o *Orchestrator) { o.cache = c }
}

// WithLocker sets the distributed per-record lock
func WithLocker(l Locker) Option {
	return func(o *Orchestrator) { o.locker = l }
}

// WithLogger replaces the component logger
func WithLogger(l logger.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// maxRetainedSessions bounds how many finished batches stay queryable
const maxRetainedSessions = 100

// NewOrchestrator creates an orchestrator. A nil config uses DefaultConfig.
func NewOrchestrator(recordStore RecordStore, service VerificationService, config *Config, opts ...Option) (*Orchestrator, error) {
	if recordStore == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "record_store", nil, nil).
			WithSuggestion("provide a record store")
	}
	if service == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "verification_service", nil, nil).
			WithSuggestion("provide a verification service client")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		store:    recordStore,
		service:  service,
		config:   config,
		logger:   logger.GetGlobalLogger().WithComponent("verifier"),
		jobs:     make(map[int64]*VerificationJob),
		sessions: make(map[string]*BatchSession),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Config returns the orchestrator's configuration
func (o *Orchestrator) Config() Config {
	return *o.config
}

// VerifyOne verifies a single record. A record carrying an uncleared error is
// reset and verified again. The attempt is not cancelled with ctx.
func (o *Orchestrator) VerifyOne(ctx context.Context, id int64) error {
	return o.run(ctx, id, 0, false)
}

// ClearError removes a record's verification error so it can join a new
// batch. It reports whether anything changed.
func (o *Orchestrator) ClearError(ctx context.Context, id int64) (bool, error) {
	if o.IsInFlight(id) {
		return false, errors.VerificationError(errors.CodeAlreadyInFlight, id, nil)
	}
	rec, err := o.loadRecord(ctx, id)
	if err != nil {
		return false, err
	}
	cleared, err := o.store.ClearError(ctx, id)
	if err != nil {
		return false, o.storageError("clear_error", id, err)
	}
	if cleared {
		o.invalidate(ctx, rec.CustomerID)
		o.logger.WithField("record_id", id).Info("Verification error cleared")
	}
	return cleared, nil
}

// IsInFlight reports whether an attempt for id is running in this process
func (o *Orchestrator) IsInFlight(id int64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.jobs[id]
	return ok
}

// Jobs returns a snapshot of the attempts in flight
func (o *Orchestrator) Jobs() []VerificationJob {
	o.mu.Lock()
	defer o.mu.Unlock()
	jobs := make([]VerificationJob, 0, len(o.jobs))
	for _, j := range o.jobs {
		jobs = append(jobs, *j)
	}
	return jobs
}

// checkStartable decides whether rec may start an attempt now. Batches also
// refuse records with an uncleared error.
func (o *Orchestrator) checkStartable(rec *models.PaymentRecord, batch bool) error {
	if err := rec.ValidateEligibility(); err != nil {
		return errors.VerificationError(errors.CodeIneligible, rec.ID, err)
	}
	switch {
	case rec.Verification == models.VerificationConfirmed:
		return errors.VerificationError(errors.CodeAlreadyConfirmed, rec.ID, nil)
	case rec.Verification == models.VerificationPending || o.IsInFlight(rec.ID):
		return errors.VerificationError(errors.CodeAlreadyInFlight, rec.ID, nil)
	case batch && (rec.HasUnresolvedError() || rec.Verification == models.VerificationRejected):
		return errors.VerificationError(errors.CodeAlreadyErrored, rec.ID, nil)
	}
	return nil
}

func (o *Orchestrator) run(ctx context.Context, id int64, index int, batch bool) error {
	ctx = context.WithoutCancel(ctx)

	rec, err := o.loadRecord(ctx, id)
	if err != nil {
		return err
	}
	if err := o.checkStartable(rec, batch); err != nil {
		return err
	}

	job, err := o.claim(id, index)
	if err != nil {
		return err
	}
	defer o.release(id, job.Generation)

	log := o.logger.WithFields(logger.Fields{"record_id": id, "generation": job.Generation})

	if o.locker != nil {
		unlock, err := o.locker.Acquire(ctx, id)
		switch {
		case errors.HasCode(err, errors.CodeAlreadyInFlight):
			return err
		case err != nil:
			log.WithError(err).Warn("could not obtain record lock; proceeding without it")
		default:
			defer unlock()
		}
	}

	from := rec.Verification
	if from == models.VerificationRejected {
		if _, err := o.store.ClearError(ctx, id); err != nil {
			return o.storageError("clear_error", id, err)
		}
		from = models.VerificationUnset
	}
	if err := o.store.TransitionVerification(ctx, id, from, models.VerificationUpdate{Flag: models.VerificationPending}); err != nil {
		if stderrors.Is(err, store.ErrConflict) {
			return errors.VerificationError(errors.CodeAlreadyInFlight, id, err)
		}
		return o.storageError("mark_pending", id, err)
	}

	ctx, span := tracer.Start(ctx, "verify_record", trace.WithAttributes(
		attribute.Int64("record.id", id),
		attribute.Int64("record.customer_id", rec.CustomerID),
		attribute.Int("batch.dispatch_index", index),
	))
	defer span.End()

	log.Debug("Dispatching verification")
	report, callErr := o.call(ctx, id)

	if callErr != nil {
		span.RecordError(callErr)
		span.SetStatus(codes.Error, recordErrorText(callErr))
	}
	return o.settle(ctx, rec, job.Generation, report, callErr, log)
}

// call races the registry call against the timeout. A result arriving after
// the timeout is dropped with the abandoned goroutine.
func (o *Orchestrator) call(ctx context.Context, id int64) (*Report, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.config.Timeout)
	defer cancel()

	type result struct {
		report *Report
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		report, err := o.service.Verify(callCtx, id)
		ch <- result{report: report, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			if stderrors.Is(res.err, context.DeadlineExceeded) {
				return nil, o.timeoutError(id)
			}
			return nil, errors.VerificationError(errors.CodeServiceError, id, res.err)
		}
		return res.report, nil
	case <-callCtx.Done():
		return nil, o.timeoutError(id)
	}
}

func (o *Orchestrator) timeoutError(id int64) error {
	return errors.VerificationError(errors.CodeTimeout, id, nil).
		WithContext("timeout", o.config.Timeout.String())
}

func (o *Orchestrator) settle(ctx context.Context, rec *models.PaymentRecord, gen uint64, report *Report, callErr error, log logger.Logger) error {
	if !o.owns(rec.ID, gen) {
		log.Warn("Attempt no longer owns the record; dropping its result")
		return callErr
	}

	if callErr == nil {
		u := models.VerificationUpdate{Flag: models.VerificationConfirmed}
		if report != nil {
			u.ReportedAmount = report.Amount
			u.ReportedDueDate = report.DueDate
		}
		if err := o.store.TransitionVerification(ctx, rec.ID, models.VerificationPending, u); err != nil {
			log.WithError(err).Error("Failed to store verification success")
			o.setOutcome(rec.ID, gen, JobFailed)
			o.resetPending(ctx, rec, log)
			return o.storageError("mark_confirmed", rec.ID, err)
		}
		o.setOutcome(rec.ID, gen, JobSucceeded)
		o.invalidate(ctx, rec.CustomerID)
		log.Info("Record verified")
		return nil
	}

	outcome := JobFailed
	if errors.HasCode(callErr, errors.CodeTimeout) {
		outcome = JobTimedOut
	}
	o.setOutcome(rec.ID, gen, outcome)

	text := recordErrorText(callErr)
	u := models.VerificationUpdate{Flag: models.VerificationRejected, Error: text}
	if err := o.store.TransitionVerification(ctx, rec.ID, models.VerificationPending, u); err != nil {
		log.WithError(err).WithField("verification_error", text).Error("Failed to store verification failure")
		o.resetPending(ctx, rec, log)
		return o.storageError("mark_rejected", rec.ID, err)
	}
	log.WithField("outcome", outcome).Warnf("Verification failed: %s", text)
	return callErr
}

// resetPending returns a record whose outcome could not be stored to unset,
// so the next attempt is not refused as in flight. Failures are only logged.
func (o *Orchestrator) resetPending(ctx context.Context, rec *models.PaymentRecord, log logger.Logger) {
	cleared, err := o.store.ClearError(ctx, rec.ID)
	if err != nil {
		log.WithError(err).Error("Failed to reset pending verification; run clear-error on the record")
		return
	}
	if cleared {
		o.invalidate(ctx, rec.CustomerID)
		log.Warn("Pending verification reset after a failed write")
	}
}

func (o *Orchestrator) claim(id int64, index int) (*VerificationJob, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.jobs[id]; busy {
		return nil, errors.VerificationError(errors.CodeAlreadyInFlight, id, nil)
	}
	o.generation++
	job := &VerificationJob{
		RecordID:      id,
		DispatchIndex: index,
		Generation:    o.generation,
		StartedAt:     time.Now(),
		Outcome:       JobPending,
	}
	o.jobs[id] = job
	return job, nil
}

func (o *Orchestrator) owns(id int64, gen uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	job, ok := o.jobs[id]
	return ok && job.Generation == gen
}

func (o *Orchestrator) setOutcome(id int64, gen uint64, outcome JobOutcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if job, ok := o.jobs[id]; ok && job.Generation == gen {
		job.Outcome = outcome
	}
}

// release returns the record to idle
func (o *Orchestrator) release(id int64, gen uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if job, ok := o.jobs[id]; ok && job.Generation == gen {
		delete(o.jobs, id)
	}
}

func (o *Orchestrator) loadRecord(ctx context.Context, id int64) (*models.PaymentRecord, error) {
	rec, err := o.store.GetRecord(ctx, id)
	if err != nil {
		return nil, o.storageError("get_record", id, err)
	}
	return rec, nil
}

func (o *Orchestrator) storageError(operation string, id int64, err error) error {
	if stderrors.Is(err, store.ErrNotFound) {
		return errors.StorageError(errors.CodeRecordNotFound, operation, err).WithContext("record_id", id)
	}
	return errors.StorageError(errors.CodeStorageFailure, operation, err).WithContext("record_id", id)
}

func (o *Orchestrator) invalidate(ctx context.Context, customerID int64) {
	if o.cache == nil {
		return
	}
	if err := o.cache.InvalidateCustomer(ctx, customerID); err != nil {
		o.logger.WithError(err).WithField("customer_id", customerID).Warn("Failed to invalidate customer records cache")
	}
}

// recordErrorText is the text stored on a record and reported to callers
func recordErrorText(err error) string {
	if err == nil {
		return ""
	}
	verr, ok := errors.AsVerifierError(err)
	if !ok {
		return err.Error()
	}
	if verr.Code == errors.CodeServiceError && verr.Cause != nil {
		return fmt.Sprintf("%s: %s", verr.Message, verr.Cause.Error())
	}
	return verr.Message
}
