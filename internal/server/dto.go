package server

import (
	"time"

	"instrument-verification-service/internal/matcher"
	"instrument-verification-service/internal/models"
	"instrument-verification-service/internal/ras"
	"instrument-verification-service/internal/verifier"
)

type CreateRecordRequest struct {
	CustomerID   int64  `json:"customer_id" minimum:"1"`
	Kind         string `json:"kind" enum:"check,cash"`
	SerialNumber string `json:"serial_number,omitempty"`
	Amount       string `json:"amount,omitempty"`
	DueDate      string `json:"due_date,omitempty"`
	DayOfYear    string `json:"day_of_year,omitempty"`
}

type RecordResponse struct {
	ID                int64     `json:"id"`
	CustomerID        int64     `json:"customer_id"`
	Kind              string    `json:"kind"`
	SerialNumber      string    `json:"serial_number,omitempty"`
	Amount            string    `json:"amount"`
	DueDate           string    `json:"due_date"`
	DayOfYear         string    `json:"day_of_year,omitempty"`
	Status            string    `json:"status"`
	Verification      string    `json:"verification" example:"confirmed"`
	ReportedAmount    string    `json:"reported_amount,omitempty"`
	ReportedDueDate   string    `json:"reported_due_date,omitempty"`
	VerificationError string    `json:"verification_error,omitempty"`
	Verdict           string    `json:"verdict" example:"match"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func recordResponse(r *models.PaymentRecord) RecordResponse {
	return RecordResponse{
		ID:                r.ID,
		CustomerID:        r.CustomerID,
		Kind:              string(r.Kind),
		SerialNumber:      r.SerialNumber,
		Amount:            r.Amount,
		DueDate:           r.DueDate,
		DayOfYear:         r.DayOfYear,
		Status:            string(r.Status),
		Verification:      r.Verification.String(),
		ReportedAmount:    r.ReportedAmount,
		ReportedDueDate:   r.ReportedDueDate,
		VerificationError: r.VerificationError,
		Verdict:           string(matcher.ReconcileRecord(r)),
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

func recordResponses(recs []*models.PaymentRecord) []RecordResponse {
	out := make([]RecordResponse, 0, len(recs))
	for _, r := range recs {
		out = append(out, recordResponse(r))
	}
	return out
}

type UpdateStatusRequest struct {
	Status string `json:"status" enum:"pending_expert,pending_treasury,rejected_expert,rejected_treasury,final_confirmed"`
}

type ClearErrorResponse struct {
	Cleared bool           `json:"cleared"`
	Record  RecordResponse `json:"record"`
}

type StartBatchRequest struct {
	IDs        []int64 `json:"ids,omitempty"`
	CustomerID int64   `json:"customer_id,omitempty"`
}

type BatchResponse struct {
	ID         string       `json:"id"`
	Active     bool         `json:"active"`
	Targets    []int64      `json:"targets"`
	Completed  int          `json:"completed"`
	Succeeded  []int64      `json:"succeeded"`
	Failures   []FailureDTO `json:"failures"`
	Skipped    []SkipDTO    `json:"skipped"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
}

type FailureDTO struct {
	RecordID int64  `json:"record_id"`
	Error    string `json:"error"`
}

type SkipDTO struct {
	RecordID int64  `json:"record_id"`
	Code     string `json:"code"`
	Reason   string `json:"reason"`
}

func batchResponse(s verifier.BatchSummary) BatchResponse {
	res := BatchResponse{
		ID:         s.ID,
		Active:     s.Active,
		Targets:    s.Targets,
		Completed:  s.Completed,
		Succeeded:  s.Succeeded,
		Failures:   make([]FailureDTO, 0, len(s.Failures)),
		Skipped:    make([]SkipDTO, 0, len(s.Skipped)),
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
	}
	for _, f := range s.Failures {
		res.Failures = append(res.Failures, FailureDTO{RecordID: f.RecordID, Error: f.Error})
	}
	for _, sk := range s.Skipped {
		res.Skipped = append(res.Skipped, SkipDTO{RecordID: sk.RecordID, Code: string(sk.Code), Reason: sk.Reason})
	}
	return res
}

type JobResponse struct {
	RecordID      int64     `json:"record_id"`
	DispatchIndex int       `json:"dispatch_index"`
	Generation    uint64    `json:"generation"`
	StartedAt     time.Time `json:"started_at"`
	Outcome       string    `json:"outcome"`
}

type RasItemDTO struct {
	Weight    string `json:"weight" example:"1500000"`
	DayOfYear string `json:"day_of_year" example:"45"`
}

type RasRequest struct {
	Items []RasItemDTO `json:"items"`
}

type RasResponse struct {
	Count       int    `json:"count"`
	TotalWeight string `json:"total_weight"`
	WeightedDay *int64 `json:"weighted_day" nullable:"true"`
}

func rasResponse(s *ras.Summary) RasResponse {
	return RasResponse{
		Count:       s.Count,
		TotalWeight: s.TotalWeight.String(),
		WeightedDay: s.WeightedDay,
	}
}

type MatchRequest struct {
	DeclaredAmount  string `json:"declared_amount"`
	ReportedAmount  string `json:"reported_amount"`
	DeclaredDueDate string `json:"declared_due_date"`
	ReportedDueDate string `json:"reported_due_date"`
}

type MatchResponse struct {
	Match bool   `json:"match"`
	Label string `json:"label" example:"terms match"`
}
