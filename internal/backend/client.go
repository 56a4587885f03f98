package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MimeLyc/stories-now/internal/session"
	"github.com/MimeLyc/stories-now/pkg/log"
)

const (
	defaultTimeout = 30 * time.Second
	// Error bodies are only read for their message.
	maxErrorBody = 64 << 10
)

// TokenStore is the session state the client reads on every protected call.
type TokenStore interface {
	Token() (string, error)
	Set(token, email string) error
	Clear() error
}

var _ TokenStore = (*session.Session)(nil)

// IsAuthError reports whether err means the user has to log in again.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, session.ErrNotLoggedIn)
}

// Client talks JSON over HTTP to the stories-now gateway.
// It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	session    TokenStore
}

type Option func(*Client)

// WithHTTPClient replaces the default client, e.g. to share a transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

func NewClient(baseURL string, sess TokenStore, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("API URL is required")
	}
	if sess == nil {
		return nil, fmt.Errorf("session is required")
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		session:    sess,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// failer lets doJSON detect {success:false} bodies on any response type.
type failer interface {
	failed() bool
	message() string
}

// newRequest builds a request with the bearer token when protected.
// A missing token fails before anything is sent.
func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader, protected bool) (*http.Request, error) {
	var token string
	if protected {
		t, err := c.session.Token()
		if err != nil {
			return nil, err
		}
		token = t
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) send(req *http.Request) (*http.Response, error) {
	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if os.IsTimeout(err) {
			return nil, fmt.Errorf("request timed out: %w", err)
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	log.Debug("%s %s -> %d in %s [%s]", req.Method, req.URL.Path, resp.StatusCode, time.Since(started).Round(time.Millisecond), req.Header.Get("X-Request-ID"))
	return resp, nil
}

// unauthorized clears the session; the caller has to log in again.
func (c *Client) unauthorized(msg string) error {
	if err := c.session.Clear(); err != nil {
		log.Warn("Failed to clear session after 401: %v", err)
	}
	if msg == "" {
		return ErrUnauthorized
	}
	return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
}

// doJSON sends payload as JSON and decodes the response into out.
func (c *Client) doJSON(ctx context.Context, method, path string, payload any, out failer, protected bool) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, path, body, protected)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.roundTrip(req, out, protected)
}

func (c *Client) roundTrip(req *http.Request, out failer, protected bool) error {
	resp, err := c.send(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	decodeErr := json.Unmarshal(raw, out)

	if resp.StatusCode == http.StatusUnauthorized && protected {
		msg := ""
		if decodeErr == nil {
			msg = out.message()
		}
		return c.unauthorized(msg)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		if decodeErr == nil && out.message() != "" {
			msg = out.message()
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return fmt.Errorf("failed to parse response: %w", decodeErr)
	}
	if out.failed() {
		return &APIError{StatusCode: resp.StatusCode, Message: out.message()}
	}
	return nil
}

// errorFromBody reads a bounded error body for non-JSON endpoints.
func (c *Client) errorFromBody(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var env envelope
	msg := strings.TrimSpace(string(raw))
	if err := json.Unmarshal(raw, &env); err == nil && env.message() != "" {
		msg = env.message()
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return c.unauthorized(msg)
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
