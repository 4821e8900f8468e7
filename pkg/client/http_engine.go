package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/dormhub/dorm-portal-api/internal/dto"
	"github.com/dormhub/dorm-portal-api/internal/models"
	appErrors "github.com/dormhub/dorm-portal-api/pkg/errors"
)

// HTTPEngine talks to the REST API. Write calls carry a bounded timeout; a
// timeout error is reported as ambiguous so the reconciler resolves it by
// re-fetching instead of retrying the write.
type HTTPEngine struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// HTTPEngineOption configures the engine.
type HTTPEngineOption func(*HTTPEngine)

// WithHTTPClient overrides the underlying client (tests).
func WithHTTPClient(c *http.Client) HTTPEngineOption {
	return func(e *HTTPEngine) {
		if c != nil {
			e.httpClient = c
		}
	}
}

// NewHTTPEngine constructs an engine for the given API base URL, e.g.
// "https://portal.example.com/api/v1".
func NewHTTPEngine(baseURL, accessToken string, opts ...HTTPEngineOption) *HTTPEngine {
	e := &HTTPEngine{
		baseURL:    baseURL,
		token:      accessToken,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// SetToken swaps the access token after a refresh.
func (e *HTTPEngine) SetToken(token string) {
	e.token = token
}

type envelope struct {
	Data  json.RawMessage  `json:"data"`
	Error *appErrors.Error `json:"error"`
}

func (e *HTTPEngine) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, e.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}

	res, err := e.httpClient.Do(req)
	if err != nil {
		if method != http.MethodGet && isAmbiguous(err) {
			// The write may have reached the server before the timeout.
			return appErrors.Wrap(err, appErrors.ErrAmbiguousFailure.Code, appErrors.ErrAmbiguousFailure.Status, appErrors.ErrAmbiguousFailure.Message)
		}
		return err
	}
	defer res.Body.Close()

	var env envelope
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if env.Error != nil {
		return env.Error
	}
	if res.StatusCode >= 400 {
		return appErrors.New(appErrors.ErrInternal.Code, res.StatusCode, http.StatusText(res.StatusCode))
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
	}
	return nil
}

// Fetch loads the authoritative record by id.
func (e *HTTPEngine) Fetch(ctx context.Context, id string) (*models.MaintenanceRequest, error) {
	var req models.MaintenanceRequest
	if err := e.do(ctx, http.MethodGet, "/maintenance/requests/"+url.PathEscape(id), nil, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// ListActive returns the caller's non-terminal requests.
func (e *HTTPEngine) ListActive(ctx context.Context) ([]models.MaintenanceRequest, error) {
	var requests []models.MaintenanceRequest
	if err := e.do(ctx, http.MethodGet, "/maintenance/requests?active=true", nil, &requests); err != nil {
		return nil, err
	}
	return requests, nil
}

// Create files a new request.
func (e *HTTPEngine) Create(ctx context.Context, payload dto.CreateRequestPayload) (*models.MaintenanceRequest, error) {
	var req models.MaintenanceRequest
	if err := e.do(ctx, http.MethodPost, "/maintenance/requests", payload, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// ApplyTransition advances a request along the lifecycle graph.
func (e *HTTPEngine) ApplyTransition(ctx context.Context, id string, payload dto.TransitionPayload) (*models.MaintenanceRequest, error) {
	var req models.MaintenanceRequest
	if err := e.do(ctx, http.MethodPost, "/maintenance/requests/"+url.PathEscape(id)+"/transition", payload, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// AttachReview submits the one-and-only review.
func (e *HTTPEngine) AttachReview(ctx context.Context, id string, payload dto.ReviewPayload) (*models.MaintenanceRequest, error) {
	var req models.MaintenanceRequest
	if err := e.do(ctx, http.MethodPost, "/maintenance/requests/"+url.PathEscape(id)+"/review", payload, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// Reschedule supersedes a request and returns the replacement.
func (e *HTTPEngine) Reschedule(ctx context.Context, id string, payload dto.ReschedulePayload) (*models.MaintenanceRequest, error) {
	var req models.MaintenanceRequest
	if err := e.do(ctx, http.MethodPost, "/maintenance/requests/"+url.PathEscape(id)+"/reschedule", payload, &req); err != nil {
		return nil, err
	}
	return &req, nil
}
