package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	domainErrors "github.com/cassiomorais/checkout/internal/domain/errors"
	"github.com/cassiomorais/checkout/internal/infrastructure/config"
	"github.com/cassiomorais/checkout/internal/infrastructure/observability"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxBodySize = 1 << 20

// APIError is a non-2xx answer from the backend.
type APIError struct {
	Operation  string
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s: backend returned status %d", e.Operation, e.StatusCode)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

type rawResponse struct {
	status int
	body   []byte
}

// serverError makes 5xx answers count against the breaker.
type serverError struct {
	resp *rawResponse
}

func (e *serverError) Error() string {
	return fmt.Sprintf("backend returned status %d", e.resp.status)
}

// StatusMapper turns a client-error status into the sentinel callers match on.
type StatusMapper func(status int) error

// client is the JSON-over-HTTP transport shared by the gateway and order clients.
type client struct {
	name    string
	baseURL string
	apiKey  string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*rawResponse]
	mapper  StatusMapper
	logger  zerolog.Logger
	metrics *observability.Metrics
}

type Option func(*client)

// WithHTTPClient replaces the default instrumented client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) { c.http = hc }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(c *client) { c.metrics = m }
}

func newClient(name string, cfg config.BackendConfig, mapper StatusMapper, logger zerolog.Logger, opts ...Option) *client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c := &client{
		name:    name,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		mapper: mapper,
		logger: observability.Component(logger, name+"_client"),
	}
	for _, o := range opts {
		o(c)
	}

	threshold := uint32(5)
	if cfg.CircuitBreakerThreshold > 0 {
		threshold = uint32(cfg.CircuitBreakerThreshold)
	}
	c.breaker = gobreaker.NewCircuitBreaker[*rawResponse](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     cfg.CircuitBreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
			if c.metrics != nil {
				c.metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			}
		},
	})
	return c
}

// do sends in as JSON and decodes the response, unwrapping a {"data": ...} envelope, into out.
func (c *client) do(ctx context.Context, operation, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", operation, err)
		}
		body = b
	}

	resp, err := c.breaker.Execute(func() (*rawResponse, error) {
		return c.send(ctx, method, path, body)
	})
	c.countRequest(err)

	if err != nil {
		var se *serverError
		switch {
		case errors.As(err, &se):
			return c.apiError(operation, se.resp)
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return fmt.Errorf("%s: %w: circuit open", operation, domainErrors.ErrGatewayUnavailable)
		case errors.Is(err, context.DeadlineExceeded), isTimeout(err):
			return fmt.Errorf("%s: %w", operation, domainErrors.ErrGatewayTimeout)
		case errors.Is(err, context.Canceled):
			return err
		default:
			return fmt.Errorf("%s: %w: %v", operation, domainErrors.ErrGatewayUnavailable, err)
		}
	}

	if resp.status >= 400 {
		return c.apiError(operation, resp)
	}
	if out == nil || len(bytes.TrimSpace(resp.body)) == 0 {
		return nil
	}
	if err := decodeEnvelope(resp.body, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", operation, err)
	}
	return nil
}

func (c *client) send(ctx context.Context, method, path string, body []byte) (*rawResponse, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxBodySize))
	if err != nil {
		return nil, err
	}
	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", res.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Backend call")

	raw := &rawResponse{status: res.StatusCode, body: data}
	if res.StatusCode >= 500 {
		return raw, &serverError{resp: raw}
	}
	return raw, nil
}

func (c *client) apiError(operation string, resp *rawResponse) error {
	var sentinel error
	if c.mapper != nil {
		sentinel = c.mapper(resp.status)
	}
	if sentinel == nil {
		if resp.status >= 500 {
			sentinel = domainErrors.ErrGatewayUnavailable
		} else {
			sentinel = domainErrors.ErrGatewayRejected
		}
	}
	return &APIError{
		Operation:  operation,
		StatusCode: resp.status,
		Message:    errorMessage(resp.body),
		Err:        sentinel,
	}
}

func (c *client) countRequest(err error) {
	if c.metrics == nil {
		return
	}
	result := "success"
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		result = "rejected"
	case err != nil:
		result = "failure"
	}
	c.metrics.CircuitBreakerRequests.WithLabelValues(c.name, result).Inc()
}

func decodeEnvelope(body []byte, out any) error {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Data) > 0 && string(envelope.Data) != "null" {
		return json.Unmarshal(envelope.Data, out)
	}
	return json.Unmarshal(body, out)
}

// errorMessage extracts the human-readable reason from an error body.
func errorMessage(body []byte) string {
	var payload struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return strings.TrimSpace(string(body))
	}
	if payload.Message != "" {
		return payload.Message
	}
	if len(payload.Error) == 0 {
		return ""
	}

	var text string
	if err := json.Unmarshal(payload.Error, &text); err == nil {
		return text
	}
	var nested struct {
		Reason   string              `json:"reason"`
		Message  string              `json:"message"`
		Messages map[string][]string `json:"messages"`
	}
	if err := json.Unmarshal(payload.Error, &nested); err == nil {
		switch {
		case nested.Reason != "":
			return nested.Reason
		case nested.Message != "":
			return nested.Message
		}
		for field, msgs := range nested.Messages {
			if len(msgs) > 0 {
				return field + ": " + msgs[0]
			}
		}
	}
	return ""
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
