// Package supabase provides a client for Supabase (PostgREST + Realtime).
// Used as the real data backend for études and their document checklist.
package supabase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/boddenberg/etudes-bfa-go/internal/domain"
	"github.com/boddenberg/etudes-bfa-go/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("supabase")

// Default table names of the hosted project.
const (
	DefaultStudiesTable   = "etudes"
	DefaultDocumentsTable = "etude_documents"
)

// Client wraps HTTP calls to Supabase PostgREST API.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	apiKey         string
	serviceRoleKey string
	studiesTable   string
	documentsTable string
	cb             *gobreaker.CircuitBreaker
	bulkhead       *resilience.Bulkhead
	cfg            resilience.Config
	logger         *zap.Logger
}

// NewClient creates a Supabase client. Requests go through cb, the retry
// loop and a bulkhead sized by cfg.MaxConcurrency.
func NewClient(httpClient *http.Client, baseURL, apiKey, serviceRoleKey string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *Client {
	if serviceRoleKey == "" {
		serviceRoleKey = apiKey
	}
	return &Client{
		httpClient:     httpClient,
		baseURL:        baseURL,
		apiKey:         apiKey,
		serviceRoleKey: serviceRoleKey,
		studiesTable:   DefaultStudiesTable,
		documentsTable: DefaultDocumentsTable,
		cb:             cb,
		bulkhead:       resilience.NewBulkhead(cfg.MaxConcurrency),
		cfg:            cfg,
		logger:         logger,
	}
}

// WithTables overrides the table names. Empty values keep the defaults.
func (c *Client) WithTables(studies, documents string) *Client {
	if studies != "" {
		c.studiesTable = studies
	}
	if documents != "" {
		c.documentsTable = documents
	}
	return c
}

// statusError is a non-2xx PostgREST response.
type statusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("supabase %s %s returned %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// doRequest executes an authenticated request to Supabase PostgREST.
// A 4xx answer (other than 408/429) is returned as a permanent error.
func (c *Client) doRequest(ctx context.Context, method, path string, payload []byte, prefer string) ([]byte, error) {
	url := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, path)

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		c.logger.Error("supabase: failed to create request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, resilience.Permanent(err)
	}

	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.serviceRoleKey))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("supabase: request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := readBody(resp)
	if err != nil {
		c.logger.Error("supabase: failed to read response body",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("supabase: non-2xx response",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(respBody)),
		)
		serr := &statusError{Method: method, Path: path, Code: resp.StatusCode, Body: string(respBody)}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
			resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
			return nil, resilience.Permanent(serr)
		}
		return nil, serr
	}

	c.logger.Debug("supabase: request OK",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
	)

	return respBody, nil
}

// call runs fn through the resilience chain and maps the outcome to the
// domain error types.
func (c *Client) call(ctx context.Context, op string, fn func() error) error {
	err := resilience.Call(ctx, c.cb, c.bulkhead, c.cfg, fn)
	if err == nil {
		return nil
	}

	var nf *domain.ErrNotFound
	if errors.As(err, &nf) {
		return nf
	}
	var ve *domain.ErrValidation
	if errors.As(err, &ve) {
		return ve
	}
	if resilience.IsBreakerOpen(err) {
		return &domain.ErrCircuitOpen{Service: "supabase"}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.ErrTimeout{Operation: "supabase/" + op}
	}
	return &domain.ErrExternalService{Service: "supabase/" + op, Err: err}
}
