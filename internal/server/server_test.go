package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"instrument-verification-service/internal/cache"
	"instrument-verification-service/internal/models"
	"instrument-verification-service/internal/store"
	"instrument-verification-service/internal/verifier"
	"instrument-verification-service/pkg/logger"
)

type testServer struct {
	URL    string
	client *http.Client
	repo   *store.Repo
}

func registry(ctx context.Context, id int64) (*verifier.Report, error) {
	switch id {
	case 2:
		return nil, errors.New("check bounced")
	default:
		return &verifier.Report{Amount: "1000", DueDate: "14040101"}, nil
	}
}

func newTestServer(t *testing.T, auth AuthConfig) *testServer {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "records.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	repo := store.New(db)

	log, err := logger.NewLogger(logger.TestConfig())
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	config := verifier.DefaultConfig()
	config.Stagger = time.Millisecond
	config.Timeout = time.Second
	orch, err := verifier.NewOrchestrator(repo, verifier.ServiceFunc(registry), config, verifier.WithLogger(log))
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}

	handler, err := New(Config{
		Orchestrator: orch,
		Records:      repo,
		Cache:        cache.NewRecordCache(nil, 0),
		BasePath:     "/v1",
		Auth:         auth,
		Logger:       log,
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testServer{URL: srv.URL, client: srv.Client(), repo: repo}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func createRecord(t *testing.T, srv *testServer, req CreateRecordRequest) RecordResponse {
	t.Helper()
	res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/records", req, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create record status %d: %s", res.StatusCode, string(data))
	}
	var rec RecordResponse
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("unmarshal record: %v", err)
	}
	return rec
}

func eligibleRecord() CreateRecordRequest {
	return CreateRecordRequest{CustomerID: 9, Kind: "check", Amount: "1,000", DueDate: "1404/01/01", DayOfYear: "1"}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "ok") {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
}

func TestVerifyRecordFlow(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	ok := createRecord(t, srv, eligibleRecord())
	bad := createRecord(t, srv, eligibleRecord())

	res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/records/1/verify", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("verify status %d: %s", res.StatusCode, string(data))
	}
	var verified RecordResponse
	if err := json.Unmarshal(data, &verified); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if verified.ID != ok.ID || verified.Verification != "confirmed" || verified.Verdict != "match" {
		t.Errorf("unexpected verified record %+v", verified)
	}

	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/records/1/verify", nil, nil)
	if res.StatusCode != http.StatusConflict || !strings.Contains(string(data), "already_confirmed") {
		t.Errorf("expected 409 already_confirmed, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/records/2/verify", nil, nil)
	if res.StatusCode != http.StatusBadGateway {
		t.Errorf("expected 502 for registry failure, got %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/records/2", nil, nil)
	var failed RecordResponse
	if err := json.Unmarshal(data, &failed); err != nil || res.StatusCode != http.StatusOK {
		t.Fatalf("get record status %d: %s", res.StatusCode, string(data))
	}
	if failed.ID != bad.ID || failed.Verification != "rejected" || failed.VerificationError != "check bounced" {
		t.Errorf("unexpected failed record %+v", failed)
	}

	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/records/2/clear-error", nil, nil)
	var cleared ClearErrorResponse
	if err := json.Unmarshal(data, &cleared); err != nil || res.StatusCode != http.StatusOK {
		t.Fatalf("clear-error status %d: %s", res.StatusCode, string(data))
	}
	if !cleared.Cleared || cleared.Record.Verification != "unset" || cleared.Record.VerificationError != "" {
		t.Errorf("unexpected clear result %+v", cleared)
	}

	res, _ = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/records/99/verify", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown record, got %d", res.StatusCode)
	}
}

func TestVerifyIneligibleRecord(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	createRecord(t, srv, CreateRecordRequest{CustomerID: 9, Kind: "check"})

	res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/records/1/verify", nil, nil)
	if res.StatusCode != http.StatusUnprocessableEntity || !strings.Contains(string(data), "ineligible") {
		t.Errorf("expected 422 ineligible, got %d: %s", res.StatusCode, string(data))
	}
}

func TestBatchLifecycle(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	createRecord(t, srv, eligibleRecord())
	createRecord(t, srv, eligibleRecord())
	createRecord(t, srv, CreateRecordRequest{CustomerID: 9, Kind: "check"})

	res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/batches", StartBatchRequest{CustomerID: 9}, nil)
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("start batch status %d: %s", res.StatusCode, string(data))
	}
	var started BatchResponse
	if err := json.Unmarshal(data, &started); err != nil {
		t.Fatalf("unmarshal batch: %v", err)
	}
	if started.ID == "" || len(started.Skipped) != 1 || started.Skipped[0].RecordID != 3 {
		t.Fatalf("unexpected batch %+v", started)
	}

	var final BatchResponse
	deadline := time.Now().Add(5 * time.Second)
	for {
		res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/batches/"+started.ID, nil, nil)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("get batch status %d: %s", res.StatusCode, string(data))
		}
		if err := json.Unmarshal(data, &final); err != nil {
			t.Fatalf("unmarshal batch: %v", err)
		}
		if final.FinishedAt != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("batch did not finish: %+v", final)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if final.Active || len(final.Succeeded) != 1 || len(final.Failures) != 1 || final.Failures[0].RecordID != 2 {
		t.Errorf("unexpected final summary %+v", final)
	}

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/batches/"+started.ID+"/report?format=csv", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("report status %d: %s", res.StatusCode, string(data))
	}
	if ct := res.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("expected csv content type, got %q", ct)
	}
	if lines := strings.Split(strings.TrimSpace(string(data)), "\n"); len(lines) != 4 {
		t.Errorf("expected header and 3 rows, got %d:\n%s", len(lines), string(data))
	}

	res, _ = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/batches/missing", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown batch, got %d", res.StatusCode)
	}

	res, _ = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/batches", StartBatchRequest{}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for empty batch request, got %d", res.StatusCode)
	}
}

func TestListRecordsFilters(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	createRecord(t, srv, eligibleRecord())
	later := eligibleRecord()
	later.DueDate = "1404/06/15"
	createRecord(t, srv, later)
	other := eligibleRecord()
	other.CustomerID = 10
	createRecord(t, srv, other)

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"all", "", 3},
		{"customer", "?customer_id=9", 2},
		{"due range", "?due_from=1404/06/01&due_to=1404/06/30", 1},
		{"verification", "?verification=unset", 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/records"+tt.query, nil, nil)
			if res.StatusCode != http.StatusOK {
				t.Fatalf("list status %d: %s", res.StatusCode, string(data))
			}
			var recs []RecordResponse
			if err := json.Unmarshal(data, &recs); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if len(recs) != tt.want {
				t.Errorf("got %d records, want %d", len(recs), tt.want)
			}
		})
	}
}

func TestUpdateStatus(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	createRecord(t, srv, eligibleRecord())

	res, data := doJSON(t, srv.client, http.MethodPut, srv.URL+"/v1/records/1/status", UpdateStatusRequest{Status: string(models.StatusPendingTreasury)}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update status %d: %s", res.StatusCode, string(data))
	}
	var rec RecordResponse
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rec.Status != string(models.StatusPendingTreasury) {
		t.Errorf("status = %q", rec.Status)
	}

	res, _ = doJSON(t, srv.client, http.MethodPut, srv.URL+"/v1/records/1/status", UpdateStatusRequest{Status: "archived"}, nil)
	if res.StatusCode < 400 || res.StatusCode >= 500 {
		t.Errorf("expected client error for unknown status, got %d", res.StatusCode)
	}
}

func TestCalculations(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})

	res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/ras", RasRequest{Items: []RasItemDTO{
		{Weight: "100", DayOfYear: "10"},
		{Weight: "300", DayOfYear: "50"},
	}}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("ras status %d: %s", res.StatusCode, string(data))
	}
	var rasRes RasResponse
	if err := json.Unmarshal(data, &rasRes); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rasRes.WeightedDay == nil || *rasRes.WeightedDay != 40 || rasRes.Count != 2 {
		t.Errorf("unexpected ras result %+v", rasRes)
	}

	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/ras", RasRequest{Items: []RasItemDTO{}}, nil)
	if err := json.Unmarshal(data, &rasRes); err != nil || res.StatusCode != http.StatusOK {
		t.Fatalf("empty ras status %d: %s", res.StatusCode, string(data))
	}
	if rasRes.WeightedDay != nil {
		t.Errorf("expected null weighted day, got %v", *rasRes.WeightedDay)
	}

	res, _ = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/ras", RasRequest{Items: []RasItemDTO{{Weight: "x", DayOfYear: "1"}}}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for bad weight, got %d", res.StatusCode)
	}

	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/match", MatchRequest{
		DeclaredAmount:  "1,500,000",
		ReportedAmount:  "۱۵۰۰۰۰۰",
		DeclaredDueDate: "1404/07/25",
		ReportedDueDate: "14040725",
	}, nil)
	var match MatchResponse
	if err := json.Unmarshal(data, &match); err != nil || res.StatusCode != http.StatusOK {
		t.Fatalf("match status %d: %s", res.StatusCode, string(data))
	}
	if !match.Match || match.Label != "terms match" {
		t.Errorf("unexpected match result %+v", match)
	}
}

func signToken(t *testing.T, secret, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: subject},
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestAuth(t *testing.T) {
	srv := newTestServer(t, AuthConfig{JWTSecret: "s3cret"})

	res, _ := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Errorf("health should not require auth, got %d", res.StatusCode)
	}

	res, _ = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/records", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", res.StatusCode)
	}

	bad := signToken(t, "other", "operator-1")
	res, _ = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/records", nil, map[string]string{"Authorization": "Bearer " + bad})
	if res.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 with foreign token, got %d", res.StatusCode)
	}

	good := signToken(t, "s3cret", "operator-1")
	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/records", nil, map[string]string{"Authorization": "Bearer " + good})
	if res.StatusCode != http.StatusOK {
		t.Errorf("expected 200 with token, got %d: %s", res.StatusCode, string(data))
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Errorf("expected error without orchestrator and store")
	}
}
