package verifier

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"instrument-verification-service/pkg/errors"
	"instrument-verification-service/pkg/logger"

	"github.com/google/uuid"
)

// CompletionFunc is invoked once per dispatched record as it settles. errText
// is empty on success.
type CompletionFunc func(recordID int64, errText string)

// Failure is a dispatched record whose verification did not succeed
type Failure struct {
	RecordID int64  `json:"record_id"`
	Error    string `json:"error"`
}

// Skip is a record left out of a batch; it is not a failure
type Skip struct {
	RecordID int64            `json:"record_id"`
	Code     errors.ErrorCode `json:"code"`
	Reason   string           `json:"reason"`
}

// BatchSummary is a snapshot of a batch session
type BatchSummary struct {
	ID         string     `json:"id"`
	Active     bool       `json:"active"`
	Targets    []int64    `json:"targets"`
	Completed  int        `json:"completed"`
	Succeeded  []int64    `json:"succeeded"`
	Failures   []Failure  `json:"failures"`
	Skipped    []Skip     `json:"skipped"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// BatchSession is one "verify all" invocation. It is active from dispatch
// until every target has settled; its transient sets are then cleared and
// only the final summary remains.
type BatchSession struct {
	id        string
	startedAt time.Time

	mu        sync.Mutex
	active    bool
	targets   []int64
	completed map[int64]bool
	succeeded []int64
	failures  []Failure
	skipped   []Skip
	final     *BatchSummary

	remaining atomic.Int64
	done      chan struct{}
	tracker   *logger.ProgressTracker
	logger    logger.Logger
}

func newBatchSession(log logger.Logger) *BatchSession {
	id := uuid.NewString()
	return &BatchSession{
		id:        id,
		startedAt: time.Now(),
		completed: make(map[int64]bool),
		done:      make(chan struct{}),
		logger:    log.WithField("batch_id", id),
	}
}

// ID returns the session identifier
func (s *BatchSession) ID() string {
	return s.id
}

// Done is closed once the batch has finished
func (s *BatchSession) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the batch finishes or ctx is done. Cancelling ctx does
// not stop the batch.
func (s *BatchSession) Wait(ctx context.Context) (BatchSummary, error) {
	select {
	case <-s.done:
		return s.Summary(), nil
	case <-ctx.Done():
		return s.Summary(), ctx.Err()
	}
}

// Summary returns the final summary of a finished batch, or a live snapshot
func (s *BatchSession) Summary() BatchSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.final != nil {
		return *s.final
	}
	return s.snapshotLocked()
}

func (s *BatchSession) snapshotLocked() BatchSummary {
	return BatchSummary{
		ID:        s.id,
		Active:    s.active,
		Targets:   append([]int64(nil), s.targets...),
		Completed: len(s.completed),
		Succeeded: append([]int64(nil), s.succeeded...),
		Failures:  append([]Failure(nil), s.failures...),
		Skipped:   append([]Skip(nil), s.skipped...),
		StartedAt: s.startedAt,
	}
}

func (s *BatchSession) skip(id int64, err error) {
	code := errors.CodeUnexpectedError
	reason := err.Error()
	if verr, ok := errors.AsVerifierError(err); ok {
		code = verr.Code
		reason = verr.Message
	}
	s.mu.Lock()
	s.skipped = append(s.skipped, Skip{RecordID: id, Code: code, Reason: reason})
	s.mu.Unlock()
}

func (s *BatchSession) start(targets []int64, tracker *logger.ProgressTracker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets = targets
	s.active = true
	s.tracker = tracker
	s.remaining.Store(int64(len(targets)))
}

// complete records one settlement. A second settlement for the same id is
// ignored.
func (s *BatchSession) complete(id int64, err error, onComplete CompletionFunc) {
	errText := recordErrorText(err)

	s.mu.Lock()
	if !s.active || s.completed[id] {
		s.mu.Unlock()
		return
	}
	s.completed[id] = true
	if err != nil {
		s.failures = append(s.failures, Failure{RecordID: id, Error: errText})
	} else {
		s.succeeded = append(s.succeeded, id)
	}
	s.mu.Unlock()

	s.tracker.Increment(err != nil)
	if onComplete != nil {
		onComplete(id, errText)
	}
	if s.remaining.Add(-1) == 0 {
		s.finish()
	}
}

func (s *BatchSession) finish() {
	s.mu.Lock()
	summary := s.snapshotLocked()
	now := time.Now()
	summary.Active = false
	summary.Completed = len(s.targets)
	summary.FinishedAt = &now
	s.final = &summary

	s.active = false
	s.targets = nil
	s.completed = nil
	s.succeeded = nil
	s.failures = nil
	s.skipped = nil
	s.mu.Unlock()

	if s.tracker != nil {
		s.tracker.Complete()
	}
	s.logger.WithFields(logger.Fields{
		"targets":  len(summary.Targets),
		"failures": len(summary.Failures),
		"skipped":  len(summary.Skipped),
	}).Info("Batch verification finished")
	close(s.done)
}

// VerifyBatch verifies ids in order, dispatching the i-th eligible record
// after i times the configured stagger. Skipped and duplicate ids do not take
// a stagger slot. It returns immediately; progress is
// observable through onComplete and the returned session. Dispatches are not
// cancelled with ctx.
func (o *Orchestrator) VerifyBatch(ctx context.Context, ids []int64, onComplete CompletionFunc) *BatchSession {
	ctx = context.WithoutCancel(ctx)
	session := newBatchSession(o.logger)

	seen := make(map[int64]bool, len(ids))
	targets := make([]int64, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		rec, err := o.loadRecord(ctx, id)
		if err == nil {
			err = o.checkStartable(rec, true)
		}
		if err != nil {
			session.skip(id, err)
			continue
		}
		targets = append(targets, id)
	}

	tracker := logger.NewProgressTracker(logger.ProgressConfig{
		Operation:   "verify_batch",
		Total:       int64(len(targets)),
		LogInterval: o.config.ProgressInterval,
		Logger:      session.logger,
	})
	session.start(targets, tracker)
	o.register(session)

	if len(targets) == 0 {
		session.finish()
		return session
	}

	for i, id := range targets {
		time.AfterFunc(time.Duration(i)*o.config.Stagger, func() {
			err := o.run(ctx, id, i, true)
			session.complete(id, err, onComplete)
		})
	}
	return session
}

// Session looks up a batch started by this orchestrator
func (o *Orchestrator) Session(id string) (*BatchSession, bool) {
	o.sessionsMu.Lock()
	defer o.sessionsMu.Unlock()
	s, ok := o.sessions[id]
	return s, ok
}

func (o *Orchestrator) register(s *BatchSession) {
	o.sessionsMu.Lock()
	defer o.sessionsMu.Unlock()
	o.sessions[s.id] = s
	o.sessionOrder = append(o.sessionOrder, s.id)

	for len(o.sessionOrder) > maxRetainedSessions {
		oldest := o.sessions[o.sessionOrder[0]]
		if oldest != nil {
			select {
			case <-oldest.done:
			default:
				// still running; keep it and everything newer
				return
			}
		}
		delete(o.sessions, o.sessionOrder[0])
		o.sessionOrder = o.sessionOrder[1:]
	}
}
