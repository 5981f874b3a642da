// Package email dispatches notification emails through an HTTP email service.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/varejoflow/crm-automation/internal/domain"
	"github.com/varejoflow/crm-automation/internal/infra/resilience"
	"github.com/varejoflow/crm-automation/internal/port"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("email")

var _ port.EmailSender = (*Client)(nil)

// Client posts one message per batch. Sends are never retried: a retry could deliver twice.
type Client struct {
	httpClient *http.Client
	url        string
	apiKey     string
	cb         *gobreaker.CircuitBreaker
}

// NewClient creates an email dispatch client.
func NewClient(httpClient *http.Client, url, apiKey string, cb *gobreaker.CircuitBreaker) *Client {
	return &Client{
		httpClient: httpClient,
		url:        url,
		apiKey:     apiKey,
		cb:         cb,
	}
}

type sendRequest struct {
	RequestID  string                  `json:"request_id"`
	Recipients []domain.EmailRecipient `json:"recipients"`
	Subject    string                  `json:"subject"`
	Message    string                  `json:"message"`
}

// Send dispatches msg to every recipient in a single call.
func (c *Client) Send(ctx context.Context, msg *domain.EmailMessage) error {
	ctx, span := tracer.Start(ctx, "EmailClient.Send")
	defer span.End()
	span.SetAttributes(attribute.Int("email.recipients", len(msg.Recipients)))

	if len(msg.Recipients) == 0 {
		return nil
	}

	body, err := json.Marshal(sendRequest{
		RequestID:  uuid.NewString(),
		Recipients: msg.Recipients,
		Subject:    msg.Subject,
		Message:    msg.Message,
	})
	if err != nil {
		return err
	}

	_, err = c.cb.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			err := fmt.Errorf("email API returned status %d: %s", resp.StatusCode, detail)
			if resp.StatusCode < 500 {
				// 4xx is not counted by the breaker
				return nil, resilience.Permanent(err)
			}
			return nil, err
		}
		return nil, nil
	})

	if err != nil {
		if resilience.IsBreakerOpen(err) {
			return &domain.ErrCircuitOpen{Service: "email"}
		}
		return &domain.ErrExternalService{Service: "email", Err: err}
	}
	return nil
}
