package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"agency-dashboard/internal/types"
	"agency-dashboard/internal/utils"
)

var (
	// ErrRequestFailed wraps every transport or non-2xx outcome.
	ErrRequestFailed = errors.New("request failed")
	ErrRateLimited   = errors.New("rate limit exceeded")
	ErrUnsupported   = errors.New("operation not supported by backend")
)

// StatusError carries the HTTP status of a non-2xx response.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
}

func (e *StatusError) Unwrap() error {
	return ErrRequestFailed
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithRateLimit caps outgoing requests per minute. Requests over the limit
// fail immediately; nothing is queued.
func WithRateLimit(perMinute, burst int) Option {
	return func(c *Client) {
		if perMinute <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = perMinute
		}
		c.limiter = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), burst)
	}
}

func WithLogger(logger *utils.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// Client talks to the agency REST API.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	logger  *utils.Logger
}

func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) ListAgents(ctx context.Context) ([]types.Agent, error) {
	var agents []types.Agent
	if err := c.doJSON(ctx, http.MethodGet, "/api/agents", nil, &agents); err != nil {
		return nil, err
	}
	if agents == nil {
		agents = []types.Agent{}
	}
	return agents, nil
}

func (c *Client) SubmitCommand(ctx context.Context, command string) (types.CommandResponse, error) {
	var resp types.CommandResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/command", types.CommandRequest{Command: command}, &resp); err != nil {
		return types.CommandResponse{}, err
	}
	return resp, nil
}

func (c *Client) FetchResults(ctx context.Context, taskID string) ([]types.Result, error) {
	if strings.TrimSpace(taskID) == "" {
		return nil, fmt.Errorf("%w: task id required", ErrRequestFailed)
	}
	var results []types.Result
	if err := c.doJSON(ctx, http.MethodGet, "/api/results/"+url.PathEscape(taskID), nil, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// UploadFile posts r as the multipart field "file" and returns the URL the
// backend stored it under.
func (c *Client) UploadFile(ctx context.Context, name string, r io.Reader) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/upload", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	var resp types.UploadResponse
	if err := c.do(req, "/api/upload", &resp); err != nil {
		return "", err
	}
	if resp.URL == "" {
		return "", fmt.Errorf("%w: upload response missing url", ErrRequestFailed)
	}
	return resp.URL, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, path, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	if c.limiter != nil && !c.limiter.Allow() {
		return nil, fmt.Errorf("%s %s: %w", method, path, ErrRateLimited)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", utils.NewID("req"))
	return req, nil
}

func (c *Client) do(req *http.Request, path string, out any) error {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w: %w", req.Method, path, ErrRequestFailed, err)
	}
	defer resp.Body.Close()
	if c.logger != nil {
		c.logger.Debugf("%s %s -> %d (%s)", req.Method, path, resp.StatusCode, time.Since(start).Round(time.Millisecond))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &StatusError{Method: req.Method, Path: path, StatusCode: resp.StatusCode}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: %w: decode: %w", req.Method, path, ErrRequestFailed, err)
	}
	return nil
}
