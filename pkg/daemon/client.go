package daemon

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

	"github.com/anirudhbiyani/cloud-session/pkg/logging"
	"github.com/anirudhbiyani/cloud-session/pkg/session"
)

const (
	// DefaultBaseURL is the loopback address the daemon listens on.
	DefaultBaseURL = "http://localhost:8080"

	defaultTimeout  = 30 * time.Second
	maxErrorBodyLen = 4 << 10
)

// Client issues RPCs against the credential daemon. It holds no session
// state and is safe for concurrent use.
type Client struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.client = hc
		}
	}
}

// WithTimeout bounds every call. Zero disables the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// New creates a Client for the daemon at baseURL.
func New(baseURL string, opts ...Option) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.NewComponentLogger(c.logger, "daemon")
	return c
}

// BaseURL returns the daemon base address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// envelope is the daemon's response wrapper.
type envelope struct {
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

// StatusError is the cause attached to non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
}

// Call dispatches desc with its placeholders bound from params. A non-nil
// body is sent as JSON. When out is non-nil the envelope's data member is
// decoded into it. Every failure is a daemon_communication *session.Error.
func (c *Client) Call(ctx context.Context, desc Descriptor, params Params, body, out any) error {
	path := Expand(desc.Path, params)
	op := desc.Method + " " + path

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var reqBody io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return session.ErrDaemonCommunication("encode request body").WithOperation(op).WithCause(err)
		}
		reqBody = buf
	}

	req, err := http.NewRequestWithContext(ctx, desc.Method, c.baseURL+path, reqBody)
	if err != nil {
		return session.ErrDaemonCommunication("build request").WithOperation(op).WithCause(err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	started := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return c.transportError(op, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.transportError(op, err)
	}
	c.logger.Debug("daemon call",
		logging.String("op", op),
		logging.Int("status", resp.StatusCode),
		logging.Duration("elapsed", time.Since(started)))

	var env envelope
	var decodeErr error
	if len(bytes.TrimSpace(payload)) > 0 {
		decodeErr = json.Unmarshal(payload, &env)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return session.ErrDaemonCommunication(errorMessage(resp, env, decodeErr)).
			WithOperation(op).
			WithCause(&StatusError{StatusCode: resp.StatusCode, Body: truncate(string(payload))}).
			WithRetryable(resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests)
	}

	if out == nil {
		return nil
	}
	if decodeErr != nil {
		return session.ErrDaemonCommunication("decode daemon response").WithOperation(op).WithCause(decodeErr).WithRetryable(false)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return session.ErrDaemonCommunication("decode daemon response data").WithOperation(op).WithCause(err).WithRetryable(false)
	}
	return nil
}

// Ping reports whether anything answers HTTP at the base address.
func (c *Client) Ping(ctx context.Context) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return session.ErrDaemonCommunication("build request").WithOperation("ping").WithCause(err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return c.transportError("ping", err)
	}
	_ = resp.Body.Close()
	return nil
}

func (c *Client) transportError(op string, err error) error {
	var urlErr *url.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &urlErr) && urlErr.Timeout()) {
		return session.ErrDaemonCommunication(fmt.Sprintf("daemon did not answer within %s", c.timeout)).
			WithOperation(op).WithCause(err)
	}
	return session.ErrDaemonCommunication(err.Error()).WithOperation(op).WithCause(err)
}

func errorMessage(resp *http.Response, env envelope, decodeErr error) string {
	if decodeErr == nil {
		if msg := strings.TrimSpace(env.Message); msg != "" {
			return msg
		}
		if msg := strings.TrimSpace(env.Error); msg != "" {
			return msg
		}
	}
	if text := http.StatusText(resp.StatusCode); text != "" {
		return fmt.Sprintf("daemon returned %d %s", resp.StatusCode, text)
	}
	return fmt.Sprintf("daemon returned %d", resp.StatusCode)
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxErrorBodyLen {
		return s[:maxErrorBodyLen]
	}
	return s
}
