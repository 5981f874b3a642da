// Package supabase implements the data store ports on top of Supabase PostgREST.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/varejoflow/crm-automation/internal/domain"
	"github.com/varejoflow/crm-automation/internal/infra/observability"
	"github.com/varejoflow/crm-automation/internal/infra/resilience"
	"github.com/varejoflow/crm-automation/internal/port"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("supabase")

var _ port.Store = (*Client)(nil)

const (
	preferRepresentation = "return=representation"
	preferMinimal        = "return=minimal"
	preferUpsert         = "resolution=merge-duplicates,return=representation"
)

// Client wraps HTTP calls to the Supabase PostgREST API.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	apiKey         string
	serviceRoleKey string
	cb             *gobreaker.CircuitBreaker
	bulkhead       *resilience.Bulkhead
	cfg            resilience.Config
	metrics        *observability.Metrics
	logger         *zap.Logger
	now            func() time.Time
}

// NewClient creates a Supabase client. Reads are retried per cfg; writes are not.
func NewClient(httpClient *http.Client, baseURL, apiKey, serviceRoleKey string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, metrics *observability.Metrics, logger *zap.Logger) *Client {
	return &Client{
		httpClient:     httpClient,
		baseURL:        baseURL,
		apiKey:         apiKey,
		serviceRoleKey: serviceRoleKey,
		cb:             cb,
		bulkhead:       resilience.NewBulkhead(cfg.MaxConcurrency),
		cfg:            cfg,
		metrics:        metrics,
		logger:         logger,
		now:            time.Now,
	}
}

type response struct {
	status int
	body   []byte
}

type statusError struct {
	method string
	path   string
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("supabase %s %s returned %d: %s", e.method, e.path, e.status, e.body)
}

// doRequest executes one authenticated request against /rest/v1.
func (c *Client) doRequest(ctx context.Context, method, path string, payload any, prefer string) (*response, error) {
	url := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, path)

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		c.logger.Error("supabase: failed to create request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}

	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.serviceRoleKey))
	req.Header.Set("Content-Type", "application/json")
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

	raw, err := readBody(resp)
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
			zap.String("body", string(raw)),
		)
	} else {
		c.logger.Debug("supabase: request OK",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		)
	}

	return &response{status: resp.StatusCode, body: raw}, nil
}

// call runs doRequest through the bulkhead and circuit breaker. Only transport
// errors and 5xx are retried or count as breaker failures. Every non-2xx status,
// 404 included, is an error: PostgREST answers [] when no row matches, so a 404
// means the table or function is missing.
func (c *Client) call(ctx context.Context, resource, method, path string, payload any, prefer string, retry bool) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "Supabase."+method+" "+resource)
	defer span.End()
	span.SetAttributes(attribute.String("db.table", resource))

	if err := c.bulkhead.Acquire(ctx); err != nil {
		return nil, c.wrapErr(resource, err)
	}
	defer c.bulkhead.Release()

	result, err := c.cb.Execute(func() (any, error) {
		var out *response
		attempt := func() error {
			r, err := c.doRequest(ctx, method, path, payload, prefer)
			if err != nil {
				return err
			}
			if r.status >= 400 {
				serr := &statusError{method: method, path: path, status: r.status, body: string(r.body)}
				if r.status < 500 {
					return resilience.Permanent(serr)
				}
				return serr
			}
			out = r
			return nil
		}

		var err error
		if retry {
			err = resilience.RetryWithBackoff(ctx, c.cfg, attempt)
		} else {
			err = attempt()
		}
		return out, err
	})
	if err != nil {
		var serr *statusError
		if errors.As(err, &serr) {
			span.SetAttributes(attribute.Int("http.status_code", serr.status))
			if serr.status == http.StatusConflict {
				return nil, &domain.ErrConflict{Message: fmt.Sprintf("%s: conflicting row", resource)}
			}
		}
		return nil, c.wrapErr(resource, err)
	}

	resp := result.(*response)
	span.SetAttributes(attribute.Int("http.status_code", resp.status))
	return resp.body, nil
}

func (c *Client) wrapErr(resource string, err error) error {
	c.metrics.IncrExternalError("supabase")
	service := "supabase/" + resource
	switch {
	case resilience.IsBreakerOpen(err):
		return &domain.ErrCircuitOpen{Service: service}
	case errors.Is(err, context.DeadlineExceeded):
		return &domain.ErrTimeout{Operation: service}
	}
	return &domain.ErrExternalService{Service: service, Err: err}
}

// get runs a retried GET and decodes the JSON array into out.
func (c *Client) get(ctx context.Context, q *query, out any) error {
	body, err := c.call(ctx, q.table, http.MethodGet, q.String(), nil, "", true)
	if err != nil {
		return err
	}
	return decodeRows(q.table, body, out)
}

// write runs a single-attempt write and decodes the returned rows into out (may be nil).
func (c *Client) write(ctx context.Context, method string, q *query, payload any, prefer string, out any) error {
	body, err := c.call(ctx, q.table, method, q.String(), payload, prefer, false)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return decodeRows(q.table, body, out)
}

// rpc calls a Postgres function. Idempotent lookups may be retried.
func (c *Client) rpc(ctx context.Context, fn string, args map[string]any, retry bool, out any) error {
	resource := "rpc/" + fn
	body, err := c.call(ctx, resource, http.MethodPost, resource, args, "", retry)
	if err != nil {
		return err
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &domain.ErrExternalService{Service: "supabase/" + resource, Err: fmt.Errorf("decode: %w", err)}
	}
	return nil
}

// Ping checks that PostgREST answers. Used by /readyz.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, "pipelines", http.MethodGet, from("pipelines").selectCols("id").limit(1).String(), nil, "", false)
	return err
}
