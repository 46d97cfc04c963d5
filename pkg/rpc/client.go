package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/psantana5/interpreter-runtime/pkg/models"
	"github.com/psantana5/interpreter-runtime/pkg/tracing"
)

// Client talks to one worker process. Close cancels every call in flight.
type Client struct {
	baseURL    string
	httpClient *http.Client
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewClient creates a client for the worker listening at baseURL
func NewClient(baseURL string) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		// No overall timeout: interpret calls last as long as the code runs.
		httpClient: &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()},
		ctx:        ctx,
		cancel:     cancel,
	}
}

// BaseURL returns the worker address
func (c *Client) BaseURL() string { return c.baseURL }

// Close cancels in-flight calls and rejects new ones
func (c *Client) Close() {
	c.cancel()
	if t, ok := c.httpClient.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
}

// Closed reports whether Close was called
func (c *Client) Closed() bool {
	return c.ctx.Err() != nil
}

// Ping probes the worker's readiness endpoint
func (c *Client) Ping(ctx context.Context) (*HealthResponse, error) {
	var health HealthResponse
	if err := c.do(ctx, "health", http.MethodGet, "/health", nil, &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// Open instantiates capability name for session and returns its descriptor
func (c *Client) Open(ctx context.Context, session, name string) (*models.CapabilityDescriptor, error) {
	var desc models.CapabilityDescriptor
	if err := c.do(ctx, "open", http.MethodPost, instancePath(session, name), nil, &desc); err != nil {
		return nil, err
	}
	return &desc, nil
}

// Interpret runs code on an opened instance
func (c *Client) Interpret(ctx context.Context, session, name, code string, ectx models.ExecutionContext) (*models.Result, error) {
	req := InterpretRequest{Code: code, Context: ectx}
	var result models.Result
	if err := c.do(ctx, "interpret", http.MethodPost, instancePath(session, name)+"/interpret", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Progress returns the progress of a paragraph on an opened instance
func (c *Client) Progress(ctx context.Context, session, name, paragraphID string) (int, error) {
	path := instancePath(session, name) + "/progress?paragraph=" + url.QueryEscape(paragraphID)
	var resp ProgressResponse
	if err := c.do(ctx, "progress", http.MethodGet, path, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Progress, nil
}

// CloseInstance drops one capability instance of a session
func (c *Client) CloseInstance(ctx context.Context, session, name string) error {
	return c.do(ctx, "close instance", http.MethodDelete, instancePath(session, name), nil, nil)
}

// CloseSession drops every instance of a session
func (c *Client) CloseSession(ctx context.Context, session string) error {
	return c.do(ctx, "close session", http.MethodDelete, "/v1/sessions/"+url.PathEscape(session), nil, nil)
}

// Shutdown asks the worker to exit
func (c *Client) Shutdown(ctx context.Context) error {
	return c.do(ctx, "shutdown", http.MethodPost, "/v1/shutdown", nil, nil)
}

func instancePath(session, name string) string {
	return fmt.Sprintf("/v1/sessions/%s/interpreters/%s", url.PathEscape(session), url.PathEscape(name))
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out interface{}) error {
	if c.Closed() {
		return ErrClientClosed
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	tracing.InjectHTTPHeaders(ctx, req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if c.Closed() {
			err = ErrClientClosed
		}
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(resp.Body)
		msg := strings.TrimSpace(string(data))
		var er ErrorResponse
		if json.Unmarshal(data, &er) == nil && er.Error != "" {
			msg = er.Error
		}
		return &StatusError{Op: op, StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if c.Closed() {
			err = ErrClientClosed
		}
		return &TransportError{Op: op, Err: fmt.Errorf("failed to decode reply: %w", err)}
	}
	return nil
}
