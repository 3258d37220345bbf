package verifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Report is what the registry returned for a record. Services that write
// their findings straight to the shared store return a nil report.
type Report struct {
	Amount  string `json:"amount"`
	DueDate string `json:"due_date"`
	Holder  string `json:"holder,omitempty"`
}

// VerificationService performs one authoritative registry lookup.
// Implementations must honour ctx: the orchestrator abandons a call at its
// timeout, and a call that ignores cancellation keeps its goroutine alive.
type VerificationService interface {
	Verify(ctx context.Context, recordID int64) (*Report, error)
}

// ServiceFunc adapts a function to VerificationService
type ServiceFunc func(ctx context.Context, recordID int64) (*Report, error)

// Verify calls f
func (f ServiceFunc) Verify(ctx context.Context, recordID int64) (*Report, error) {
	return f(ctx, recordID)
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("registry error: status=%d body=%s", e.StatusCode, strings.TrimSpace(e.Body))
}

// HTTPService is a minimal client for the check registry HTTP API.
type HTTPService struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// DefaultHTTPTimeout stays below the default verification timeout
const DefaultHTTPTimeout = 8 * time.Second

// NewHTTPService creates a client with sane defaults.
func NewHTTPService(baseURL string) *HTTPService {
	return &HTTPService{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: DefaultHTTPTimeout},
	}
}

type verifyResponse struct {
	Verified bool    `json:"verified"`
	Reason   string  `json:"reason,omitempty"`
	Report   *Report `json:"report,omitempty"`
}

// Verify posts to {base}/records/{id}/verify. A response with verified=false
// is a failure carrying the registry's reason.
func (s *HTTPService) Verify(ctx context.Context, recordID int64) (*Report, error) {
	var resp verifyResponse
	if err := s.do(ctx, http.MethodPost, fmt.Sprintf("records/%d/verify", recordID), nil, &resp); err != nil {
		return nil, err
	}
	if !resp.Verified {
		reason := resp.Reason
		if reason == "" {
			reason = "registry did not confirm the instrument"
		}
		return nil, errors.New(reason)
	}
	return resp.Report, nil
}

func (s *HTTPService) do(ctx context.Context, method, endpoint string, body any, out any) error {
	client := s.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	url := strings.TrimRight(s.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.APIKey != "" {
		req.Header.Set("X-Api-Key", s.APIKey)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
