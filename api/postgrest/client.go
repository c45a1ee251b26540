// Package postgrest is a small client for a PostgREST (REST-over-Postgres)
// endpoint authenticated with a service-role key.
package postgrest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/careconnect/backend/api/metrics"
	"github.com/careconnect/backend/utils/pkg/retry"
)

// Config configures a Client.
type Config struct {
	// URL is the project base URL; requests go to URL + "/rest/v1/<table>".
	URL    string
	APIKey string

	HTTPClient *http.Client
	// Timeout bounds each individual HTTP attempt.
	Timeout time.Duration
	// Retry applies to GET requests only.
	Retry  retry.Config
	Logger *slog.Logger
}

// Client talks to PostgREST with service-role credentials.
type Client struct {
	restURL    string
	apiKey     string
	httpClient *http.Client
	timeout    time.Duration
	retry      retry.Config
	log        *slog.Logger
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("postgrest: URL is required")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("postgrest: API key is required")
	}
	if _, err := url.ParseRequestURI(cfg.URL); err != nil {
		return nil, fmt.Errorf("postgrest: invalid URL: %w", err)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		restURL:    strings.TrimRight(cfg.URL, "/") + "/rest/v1",
		apiKey:     cfg.APIKey,
		httpClient: cfg.HTTPClient,
		timeout:    cfg.Timeout,
		retry:      cfg.Retry,
		log:        cfg.Logger,
	}, nil
}

// From starts a query against table.
func (c *Client) From(table string) *Query {
	return &Query{
		client: c,
		table:  table,
		params: url.Values{},
	}
}

// Response is a successful PostgREST response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the body into v.
func (r *Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("postgrest: failed to decode response: %w", err)
	}
	return nil
}

// Rows decodes the body as a list of row objects.
func (r *Response) Rows() ([]map[string]any, error) {
	rows := []map[string]any{}
	if err := r.Decode(&rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// First returns the first row or nil when the body is an empty list.
func (r *Response) First() (map[string]any, error) {
	rows, err := r.Rows()
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

type request struct {
	method  string
	table   string
	query   url.Values
	body    any
	headers map[string]string
}

func (c *Client) do(ctx context.Context, req request) (*Response, error) {
	var payload []byte
	if req.body != nil {
		var err error
		payload, err = json.Marshal(req.body)
		if err != nil {
			return nil, fmt.Errorf("postgrest: failed to encode body: %w", err)
		}
	}

	if req.method != http.MethodGet {
		return c.send(ctx, req, payload)
	}

	cfg := c.retry
	cfg.OnRetry = func(attempt int, err error) {
		metrics.RecordUpstreamRetry(req.table)
		c.log.Warn("retrying postgrest read", "table", req.table, "attempt", attempt, "error", err)
	}
	return retry.DoValue(ctx, cfg, func() (*Response, error) {
		return c.send(ctx, req, payload)
	})
}

func (c *Client) send(ctx context.Context, req request, payload []byte) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.restURL + "/" + url.PathEscape(req.table)
	if encoded := req.query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("postgrest: failed to build request: %w", err)
	}
	c.setHeaders(httpReq, req.headers)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		metrics.RecordUpstreamRequest(req.table, req.method, 0, time.Since(start))
		return nil, fmt.Errorf("postgrest: %s %s: %w", req.method, req.table, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	metrics.RecordUpstreamRequest(req.table, req.method, resp.StatusCode, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("postgrest: failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseError(req.method, req.table, resp.StatusCode, respBody)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       respBody,
	}, nil
}

func (c *Client) setHeaders(req *http.Request, extra map[string]string) {
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if req.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range extra {
		req.Header.Set(k, v)
	}
}
