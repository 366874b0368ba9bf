// internal/infra/provider/rest.go

// Package provider is the REST client of the compute session provider.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"release-orchestrator/internal/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// RetryPolicy controls retries of requests that failed with a 5xx status or
// a network timeout.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
}

// Config is the provider endpoint.
type Config struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
	Retry   RetryPolicy   `mapstructure:"retry"`
}

// StatusError is a non-2xx provider response.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s returned status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Client implements domain.Provider over the provider's REST API.
type Client struct {
	baseURL string
	token   string
	retry   RetryPolicy
	client  *http.Client
	logger  *slog.Logger
	tracer  trace.Tracer
}

var _ domain.Provider = (*Client)(nil)

func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("provider base_url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		retry:   cfg.Retry,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With("component", "provider-client"),
		tracer:  otel.Tracer("release-orchestrator-provider"),
	}, nil
}

type request struct {
	method      string
	path        string
	query       url.Values
	body        []byte
	contentType string
}

func jsonRequest(method, path string, query url.Values, payload any) (request, error) {
	r := request{method: method, path: path, query: query}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return r, fmt.Errorf("failed to marshal %s %s payload: %w", method, path, err)
		}
		r.body = b
		r.contentType = "application/json"
	}
	return r, nil
}

// do sends req and retries retriable failures. The response body is returned
// to the caller, who must close it.
func (c *Client) do(ctx context.Context, req request) (io.ReadCloser, error) {
	ctx, span := c.tracer.Start(ctx, "provider."+req.method, trace.WithAttributes(
		attribute.String("http.method", req.method),
		attribute.String("provider.path", req.path),
	))
	defer span.End()

	var lastErr error
	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		body, err := c.doOnce(ctx, req)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if !retriable(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "non-retriable provider error")
			return nil, err
		}
		if attempt == c.retry.MaxRetries {
			break
		}

		c.logger.Warn("provider request failed, retrying", "method", req.method, "path", req.path, "attempt", attempt+1, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.retry.Backoff):
		}
	}

	err := fmt.Errorf("provider request failed after %d retries: %w", c.retry.MaxRetries, lastErr)
	span.RecordError(err)
	span.SetStatus(codes.Error, "provider retries exhausted")
	return nil, err
}

func retriable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code >= 500
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (c *Client) doOnce(ctx context.Context, req request) (io.ReadCloser, error) {
	target := c.baseURL + req.path
	if len(req.query) > 0 {
		target += "?" + req.query.Encode()
	}

	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider request: %w", err)
	}
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}
	httpReq.Header.Set("Accept", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("provider request %s %s failed: %w", req.method, req.path, err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &StatusError{Method: req.method, Path: req.path, Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	return resp.Body, nil
}

type envelope[T any] struct {
	Result T `json:"result"`
}

type listEnvelope[T any] struct {
	Results []T `json:"results"`
}

func call[T any](ctx context.Context, c *Client, method, path string, query url.Values, payload any) (T, error) {
	var zero T
	req, err := jsonRequest(method, path, query, payload)
	if err != nil {
		return zero, err
	}
	body, err := c.do(ctx, req)
	if err != nil {
		return zero, err
	}
	defer body.Close()

	var out envelope[T]
	if err := json.NewDecoder(body).Decode(&out); err != nil {
		return zero, fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return out.Result, nil
}

func list[T any](ctx context.Context, c *Client, method, path string, query url.Values, payload any) ([]T, error) {
	req, err := jsonRequest(method, path, query, payload)
	if err != nil {
		return nil, err
	}
	body, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var out listEnvelope[T]
	if err := json.NewDecoder(body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return out.Results, nil
}

func (c *Client) send(ctx context.Context, method, path string, payload any) error {
	req, err := jsonRequest(method, path, nil, payload)
	if err != nil {
		return err
	}
	body, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, body)
	return body.Close()
}

type idResult struct {
	ID string `json:"id"`
}

type createResourceRequest struct {
	Name      string         `json:"name"`
	ProjectID string         `json:"project_id"`
	Config    map[string]any `json:"config"`
}

func (c *Client) ListComputeTemplates(ctx context.Context, projectID string) ([]domain.NamedResource, error) {
	return list[domain.NamedResource](ctx, c, http.MethodGet, "/api/v2/compute_templates", url.Values{"project_id": {projectID}}, nil)
}

func (c *Client) CreateComputeTemplate(ctx context.Context, projectID, name string, config map[string]any) (string, error) {
	res, err := call[idResult](ctx, c, http.MethodPost, "/api/v2/compute_templates", nil, createResourceRequest{Name: name, ProjectID: projectID, Config: config})
	return res.ID, err
}

func (c *Client) ListAppConfigs(ctx context.Context, projectID string, count int) ([]domain.NamedResource, error) {
	q := url.Values{"project_id": {projectID}, "count": {strconv.Itoa(count)}}
	return list[domain.NamedResource](ctx, c, http.MethodGet, "/api/v2/application_templates", q, nil)
}

func (c *Client) CreateAppConfig(ctx context.Context, projectID, name string, config map[string]any) (string, error) {
	res, err := call[idResult](ctx, c, http.MethodPost, "/api/v2/application_templates", nil, createResourceRequest{Name: name, ProjectID: projectID, Config: config})
	return res.ID, err
}

func (c *Client) ListBuilds(ctx context.Context, appConfigID string) ([]domain.Build, error) {
	return list[domain.Build](ctx, c, http.MethodGet, "/api/v2/builds", url.Values{"application_template_id": {appConfigID}}, nil)
}

func (c *Client) GetBuild(ctx context.Context, buildID string) (*domain.Build, error) {
	b, err := call[domain.Build](ctx, c, http.MethodGet, "/api/v2/builds/"+url.PathEscape(buildID), nil, nil)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

type searchSessionsRequest struct {
	ProjectID string `json:"project_id"`
	Name      struct {
		Equals string `json:"equals"`
	} `json:"name"`
}

func (c *Client) SearchSessions(ctx context.Context, projectID, name string) ([]domain.SessionSummary, error) {
	q := searchSessionsRequest{ProjectID: projectID}
	q.Name.Equals = name
	return list[domain.SessionSummary](ctx, c, http.MethodPost, "/api/v2/sessions/search", nil, q)
}

func (c *Client) CreateSession(ctx context.Context, opts domain.SessionOptions) (string, error) {
	res, err := call[idResult](ctx, c, http.MethodPost, "/api/v2/sessions", nil, opts)
	return res.ID, err
}

func (c *Client) StartSession(ctx context.Context, sessionID string) (*domain.SessionOperation, error) {
	op, err := call[domain.SessionOperation](ctx, c, http.MethodPost, "/api/v2/sessions/"+url.PathEscape(sessionID)+"/start", nil, struct{}{})
	if err != nil {
		return nil, err
	}
	return &op, nil
}

func (c *Client) GetSessionOperation(ctx context.Context, operationID string) (*domain.SessionOperation, error) {
	op, err := call[domain.SessionOperation](ctx, c, http.MethodGet, "/api/v2/session_operations/"+url.PathEscape(operationID), nil, nil)
	if err != nil {
		return nil, err
	}
	return &op, nil
}

func (c *Client) StopSession(ctx context.Context, sessionID string, terminate bool) error {
	return c.send(ctx, http.MethodPost, "/api/v2/sessions/"+url.PathEscape(sessionID)+"/stop", map[string]bool{"terminate": terminate})
}

func (c *Client) CreateCommand(ctx context.Context, sessionID, shellCommand string) (*domain.CommandStatus, error) {
	payload := map[string]string{"session_id": sessionID, "shell_command": shellCommand}
	st, err := call[domain.CommandStatus](ctx, c, http.MethodPost, "/api/v2/session_commands", nil, payload)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) GetCommand(ctx context.Context, commandID string) (*domain.CommandStatus, error) {
	st, err := call[domain.CommandStatus](ctx, c, http.MethodGet, "/api/v2/session_commands/"+url.PathEscape(commandID), nil, nil)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

type logLines struct {
	Lines string `json:"lines"`
}

func (c *Client) GetExecutionLogs(ctx context.Context, commandID string, lines int) (string, error) {
	q := url.Values{"lines": {strconv.Itoa(lines)}}
	res, err := call[logLines](ctx, c, http.MethodGet, "/api/v2/session_commands/"+url.PathEscape(commandID)+"/execution_logs", q, nil)
	return res.Lines, err
}

func (c *Client) ListSessions(ctx context.Context, projectID string) ([]domain.SessionStatus, error) {
	return list[domain.SessionStatus](ctx, c, http.MethodGet, "/api/v2/sessions", url.Values{"project_id": {projectID}}, nil)
}

func (c *Client) GetSessionLogs(ctx context.Context, sessionID string) (string, error) {
	res, err := call[logLines](ctx, c, http.MethodGet, "/api/v2/sessions/"+url.PathEscape(sessionID)+"/logs", nil, nil)
	return res.Lines, err
}
