// Package server exposes the verifier over HTTP.
package server

import (
	"bytes"
	"context"
	stderrors "errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"instrument-verification-service/internal/cache"
	"instrument-verification-service/internal/dates"
	"instrument-verification-service/internal/matcher"
	"instrument-verification-service/internal/models"
	"instrument-verification-service/internal/ras"
	"instrument-verification-service/internal/reporter"
	"instrument-verification-service/internal/store"
	"instrument-verification-service/internal/verifier"
	"instrument-verification-service/pkg/errors"
	"instrument-verification-service/pkg/logger"
)

// Config for the HTTP API handler.
type Config struct {
	Orchestrator *verifier.Orchestrator
	Records      *store.Repo
	Cache        *cache.RecordCache
	BasePath     string
	Version      string
	Auth         AuthConfig
	Logger       logger.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"already_in_flight"`
	Message string         `json:"message" example:"record 7 already has a verification in flight"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError is the error envelope of every failed request
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

type handler struct {
	cfg Config
	log logger.Logger
}

// New returns an HTTP handler exposing the verification API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Orchestrator == nil || cfg.Records == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "server_config", nil, nil).
			WithSuggestion("Provide an orchestrator and a record store")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.GetGlobalLogger()
	}

	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Instrument Verification API", cfg.Version)
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	h := &handler{cfg: cfg, log: cfg.Logger.WithComponent("server")}
	registerHealth(group)
	h.registerRecords(group)
	h.registerVerification(group)
	h.registerBatches(group)
	h.registerCalculations(group)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps categorized errors onto HTTP statuses
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, store.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "record_not_found", err.Error(), nil)
	}
	verr, ok := errors.AsVerifierError(err)
	if !ok {
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}

	var details map[string]any
	if verr.Suggestion != "" {
		details = map[string]any{"suggestion": verr.Suggestion}
	}
	status := http.StatusInternalServerError
	switch verr.Code {
	case errors.CodeRecordNotFound:
		status = http.StatusNotFound
	case errors.CodeAlreadyInFlight, errors.CodeAlreadyConfirmed, errors.CodeAlreadyErrored:
		status = http.StatusConflict
	case errors.CodeIneligible:
		status = http.StatusUnprocessableEntity
	case errors.CodeTimeout:
		status = http.StatusGatewayTimeout
	case errors.CodeServiceError:
		status = http.StatusBadGateway
	default:
		switch verr.Category {
		case errors.CategoryValidation, errors.CategoryParse:
			status = http.StatusBadRequest
		case errors.CategoryNetwork:
			status = http.StatusServiceUnavailable
		}
	}
	return newAPIError(status, string(verr.Code), verr.Error(), details)
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

type recordPath struct {
	ID int64 `path:"id"`
}

type recordOutput struct {
	Body RecordResponse `json:"body"`
}

func (h *handler) loadRecord(ctx context.Context, id int64) (*models.PaymentRecord, error) {
	rec, err := h.cfg.Records.GetRecord(ctx, id)
	if err != nil {
		return nil, handleError(err)
	}
	return rec, nil
}

func (h *handler) invalidate(ctx context.Context, customerID int64) {
	if err := h.cfg.Cache.InvalidateCustomer(ctx, customerID); err != nil {
		h.log.WithError(err).WithField("customer_id", customerID).Warn("cache invalidation failed")
	}
}

func (h *handler) registerRecords(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-record",
		Method:        http.MethodPost,
		Path:          "/records",
		Summary:       "Create payment record",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateRecordRequest `json:"body"`
	}) (*recordOutput, error) {
		rec := &models.PaymentRecord{
			CustomerID:   input.Body.CustomerID,
			Kind:         models.InstrumentKind(input.Body.Kind),
			SerialNumber: input.Body.SerialNumber,
			Amount:       input.Body.Amount,
			DueDate:      input.Body.DueDate,
			DayOfYear:    input.Body.DayOfYear,
		}
		id, err := h.cfg.Records.InsertRecord(ctx, rec)
		if err != nil {
			return nil, handleError(err)
		}
		h.invalidate(ctx, rec.CustomerID)
		created, err := h.loadRecord(ctx, id)
		if err != nil {
			return nil, err
		}
		return &recordOutput{Body: recordResponse(created)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-records",
		Method:      http.MethodGet,
		Path:        "/records",
		Summary:     "List payment records",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		CustomerID   int64  `query:"customer_id"`
		Verification string `query:"verification" enum:"unset,pending,confirmed,rejected"`
		DueFrom      string `query:"due_from" doc:"local calendar date, inclusive"`
		DueTo        string `query:"due_to" doc:"local calendar date, inclusive"`
	}) (*struct {
		Body []RecordResponse `json:"body"`
	}, error) {
		filter := models.RecordFilter{CustomerID: input.CustomerID}
		if input.Verification != "" {
			flag, err := models.ParseVerificationFlag(input.Verification)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
			}
			filter.Flag = &flag
		}
		rng, err := dueRange(input.DueFrom, input.DueTo)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": "due_from,due_to"})
		}
		filter.DueRange = rng

		var recs []*models.PaymentRecord
		if filter.CustomerID > 0 && filter.Flag == nil && len(filter.DueRange) == 0 {
			recs, err = h.cfg.Cache.CustomerRecords(ctx, filter.CustomerID, func(ctx context.Context) ([]*models.PaymentRecord, error) {
				return h.cfg.Records.ListRecords(ctx, filter)
			})
		} else {
			recs, err = h.cfg.Records.ListRecords(ctx, filter)
		}
		if err != nil {
			return nil, handleError(errors.StorageError(errors.CodeStorageFailure, "list_records", err))
		}
		return &struct {
			Body []RecordResponse `json:"body"`
		}{Body: recordResponses(recs)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-record",
		Method:      http.MethodGet,
		Path:        "/records/{id}",
		Summary:     "Get payment record",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *recordPath) (*recordOutput, error) {
		rec, err := h.loadRecord(ctx, input.ID)
		if err != nil {
			return nil, err
		}
		return &recordOutput{Body: recordResponse(rec)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-record-status",
		Method:      http.MethodPut,
		Path:        "/records/{id}/status",
		Summary:     "Move a record to another approval stage",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   int64               `path:"id"`
		Body UpdateStatusRequest `json:"body"`
	}) (*recordOutput, error) {
		rec, err := h.loadRecord(ctx, input.ID)
		if err != nil {
			return nil, err
		}
		if err := h.cfg.Records.UpdateStatus(ctx, input.ID, models.Status(input.Body.Status)); err != nil {
			return nil, handleError(err)
		}
		h.invalidate(ctx, rec.CustomerID)
		h.log.WithFields(logger.Fields{
			"record_id": input.ID,
			"status":    input.Body.Status,
			"operator":  operatorFromContext(ctx),
		}).Info("Record status updated")
		updated, err := h.loadRecord(ctx, input.ID)
		if err != nil {
			return nil, err
		}
		return &recordOutput{Body: recordResponse(updated)}, nil
	})
}

func dueRange(from, to string) ([]dates.CalendarDate, error) {
	if from == "" && to == "" {
		return nil, nil
	}
	var rng []dates.CalendarDate
	for _, raw := range []string{from, to} {
		if raw == "" {
			continue
		}
		d, err := dates.ParseCalendarDate(raw)
		if err != nil {
			return nil, err
		}
		rng = append(rng, d)
	}
	return rng, nil
}

func (h *handler) registerVerification(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "verify-record",
		Method:      http.MethodPost,
		Path:        "/records/{id}/verify",
		Summary:     "Verify one record against the registry",
		Description: "Blocks until the attempt settles or times out. A record with an uncleared error is reset first.",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusBadGateway,
			http.StatusGatewayTimeout,
		},
	}, func(ctx context.Context, input *recordPath) (*recordOutput, error) {
		h.log.WithFields(logger.Fields{
			"record_id": input.ID,
			"operator":  operatorFromContext(ctx),
		}).Info("Verification requested")
		if err := h.cfg.Orchestrator.VerifyOne(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		rec, err := h.loadRecord(ctx, input.ID)
		if err != nil {
			return nil, err
		}
		return &recordOutput{Body: recordResponse(rec)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "clear-record-error",
		Method:      http.MethodPost,
		Path:        "/records/{id}/clear-error",
		Summary:     "Clear a record's verification error",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *recordPath) (*struct {
		Body ClearErrorResponse `json:"body"`
	}, error) {
		cleared, err := h.cfg.Orchestrator.ClearError(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		rec, err := h.loadRecord(ctx, input.ID)
		if err != nil {
			return nil, err
		}
		return &struct {
			Body ClearErrorResponse `json:"body"`
		}{Body: ClearErrorResponse{Cleared: cleared, Record: recordResponse(rec)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-jobs",
		Method:      http.MethodGet,
		Path:        "/jobs",
		Summary:     "Verification attempts in flight",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []JobResponse `json:"body"`
	}, error) {
		jobs := h.cfg.Orchestrator.Jobs()
		out := make([]JobResponse, 0, len(jobs))
		for _, j := range jobs {
			out = append(out, JobResponse{
				RecordID:      j.RecordID,
				DispatchIndex: j.DispatchIndex,
				Generation:    j.Generation,
				StartedAt:     j.StartedAt,
				Outcome:       string(j.Outcome),
			})
		}
		return &struct {
			Body []JobResponse `json:"body"`
		}{Body: out}, nil
	})
}

type batchPath struct {
	ID string `path:"id"`
}

type batchOutput struct {
	Body BatchResponse `json:"body"`
}

func (h *handler) registerBatches(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "start-batch",
		Method:        http.MethodPost,
		Path:          "/batches",
		Summary:       "Start batch verification",
		Description:   "Returns as soon as records are dispatched. Poll the batch for progress.",
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body StartBatchRequest `json:"body"`
	}) (*batchOutput, error) {
		ids := input.Body.IDs
		if len(ids) == 0 && input.Body.CustomerID > 0 {
			recs, err := h.cfg.Records.ListRecords(ctx, models.RecordFilter{CustomerID: input.Body.CustomerID})
			if err != nil {
				return nil, handleError(errors.StorageError(errors.CodeStorageFailure, "list_records", err))
			}
			for _, r := range recs {
				ids = append(ids, r.ID)
			}
		}
		if len(ids) == 0 && input.Body.CustomerID == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "ids or customer_id is required", nil)
		}

		session := h.cfg.Orchestrator.VerifyBatch(ctx, ids, nil)
		h.log.WithFields(logger.Fields{
			"batch_id": session.ID(),
			"records":  len(ids),
			"operator": operatorFromContext(ctx),
		}).Info("Batch verification started")
		return &batchOutput{Body: batchResponse(session.Summary())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-batch",
		Method:      http.MethodGet,
		Path:        "/batches/{id}",
		Summary:     "Batch progress or final summary",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *batchPath) (*batchOutput, error) {
		session, ok := h.cfg.Orchestrator.Session(input.ID)
		if !ok {
			return nil, newAPIError(http.StatusNotFound, "batch_not_found", "batch not found", map[string]any{"id": input.ID})
		}
		return &batchOutput{Body: batchResponse(session.Summary())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-batch-report",
		Method:      http.MethodGet,
		Path:        "/batches/{id}/report",
		Summary:     "Report of a finished batch",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID     string `path:"id"`
		Format string `query:"format" enum:"json,csv,xlsx" default:"json"`
	}) (*struct {
		ContentType string `header:"Content-Type"`
		Body        []byte
	}, error) {
		session, ok := h.cfg.Orchestrator.Session(input.ID)
		if !ok {
			return nil, newAPIError(http.StatusNotFound, "batch_not_found", "batch not found", map[string]any{"id": input.ID})
		}
		summary := session.Summary()
		if summary.FinishedAt == nil {
			return nil, newAPIError(http.StatusConflict, "batch_active", "batch has not finished", nil)
		}

		ids := append([]int64(nil), summary.Targets...)
		for _, s := range summary.Skipped {
			ids = append(ids, s.RecordID)
		}
		var recs []*models.PaymentRecord
		if len(ids) > 0 {
			var err error
			recs, err = h.cfg.Records.ListRecords(ctx, models.RecordFilter{IDs: ids})
			if err != nil {
				return nil, handleError(errors.StorageError(errors.CodeStorageFailure, "list_records", err))
			}
		}

		format := reporter.OutputFormat(input.Format)
		cfg := reporter.DefaultReportConfig()
		cfg.Format = format
		gen, err := reporter.NewReportGenerator(cfg)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		var buf bytes.Buffer
		if err := gen.GenerateReport(reporter.BuildBatchReport(summary, recs), &buf); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			ContentType string `header:"Content-Type"`
			Body        []byte
		}{ContentType: reportContentType(format), Body: buf.Bytes()}, nil
	})
}

func reportContentType(f reporter.OutputFormat) string {
	switch f {
	case reporter.FormatCSV:
		return "text/csv"
	case reporter.FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/json"
	}
}

func (h *handler) registerCalculations(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "ras",
		Method:      http.MethodPost,
		Path:        "/ras",
		Summary:     "Weighted due day of a set of payments",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body RasRequest `json:"body"`
	}) (*struct {
		Body RasResponse `json:"body"`
	}, error) {
		items := make([]ras.Item, 0, len(input.Body.Items))
		for _, it := range input.Body.Items {
			items = append(items, ras.Item{Weight: it.Weight, DayOfYear: it.DayOfYear})
		}
		summary, err := ras.Summarize(items)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RasResponse `json:"body"`
		}{Body: rasResponse(summary)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "match",
		Method:      http.MethodPost,
		Path:        "/match",
		Summary:     "Compare declared and reported terms",
	}, func(ctx context.Context, input *struct {
		Body MatchRequest `json:"body"`
	}) (*struct {
		Body MatchResponse `json:"body"`
	}, error) {
		b := input.Body
		ok := matcher.Matches(b.DeclaredAmount, b.ReportedAmount, b.DeclaredDueDate, b.ReportedDueDate)
		verdict := matcher.VerdictMismatch
		if ok {
			verdict = matcher.VerdictMatch
		}
		return &struct {
			Body MatchResponse `json:"body"`
		}{Body: MatchResponse{Match: ok, Label: verdict.Label()}}, nil
	})
}
