// Package graph talks to the Microsoft Graph places API. It provides a
// bearer-token [Client] for raw GET/POST calls, a [Places] adapter that lists
// buildings (room lists) and their rooms, and an [AppTokenSource] that
// acquires application (non-user) tokens with the client-credentials flow.
//
// The client rate-limits outgoing calls and runs them behind a circuit
// breaker. It never retries; retry policy lives with the caller so that a
// retried unit matches a whole building reconciliation.
package graph

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the public Graph endpoint.
	DefaultBaseURL = "https://graph.microsoft.com"

	defaultTimeout           = 30 * time.Second
	defaultRequestsPerSecond = 10
	defaultBurst             = 10

	// maxBodyBytes bounds how much of a response is buffered.
	maxBodyBytes = 8 << 20
)

// Options configures a Client. Zero values select defaults.
type Options struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int

	// HTTPClient overrides the transport. Its Timeout is left untouched.
	HTTPClient *http.Client

	// BreakerName labels the circuit breaker in logs. Defaults to "graph-api".
	BreakerName string
}

// Response is a fully-read HTTP response. Callers decide whether to decode a
// success body or extract the error envelope.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	path string
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Decode unmarshals the body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decoding %s response: %w", r.path, err)
	}
	return nil
}

// Err returns nil for a 2xx response and an [*APIError] otherwise.
func (r *Response) Err() error {
	if r.OK() {
		return nil
	}
	return parseAPIError(r.path, r.StatusCode, r.Body)
}

// Client issues authenticated requests against Graph.
type Client struct {
	baseURL *url.URL
	hc      *http.Client
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker[*Response]
	log     *slog.Logger
}

// NewClient creates a Client. The base URL must be absolute.
func NewClient(opts Options, logger *slog.Logger) (*Client, error) {
	raw := opts.BaseURL
	if raw == "" {
		raw = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("graph base URL %q must be an absolute URL", raw)
	}

	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}

	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = defaultBurst
	}

	name := opts.BreakerName
	if name == "" {
		name = "graph-api"
	}

	return &Client{
		baseURL: base,
		hc:      hc,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		cb:      newBreaker(name, logger),
		log:     logger,
	}, nil
}

// Get issues an authenticated GET. headers may be nil.
func (c *Client) Get(ctx context.Context, path, token string, headers map[string]string) (*Response, error) {
	return c.do(ctx, http.MethodGet, path, token, nil, headers)
}

// Post issues an authenticated POST. A nil payload or empty string sends no
// body; strings and byte slices are sent as-is; anything else is encoded as
// JSON.
func (c *Client) Post(ctx context.Context, path, token string, payload any, headers map[string]string) (*Response, error) {
	body, err := encodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding payload for %s: %w", path, err)
	}
	return c.do(ctx, http.MethodPost, path, token, body, headers)
}

// BreakerState returns the circuit breaker state name ("closed", "half-open",
// "open").
func (c *Client) BreakerState() string {
	return stateToString(c.cb.State())
}

// statusError marks a transient HTTP status as a breaker failure while the
// response itself is still handed back to the caller.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("transient status %d", e.code)
}

func (c *Client) do(ctx context.Context, method, path, token string, body []byte, headers map[string]string) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s %s: waiting for rate limiter: %w", method, path, err)
	}

	resp, err := c.cb.Execute(func() (*Response, error) {
		return c.send(ctx, method, path, token, body, headers)
	})

	var se *statusError
	if errors.As(err, &se) {
		return resp, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

func (c *Client) send(ctx context.Context, method, path, token string, body []byte, headers map[string]string) (*Response, error) {
	endpoint, err := c.resolve(path)
	if err != nil {
		return nil, err
	}

	var reader io.Reader = http.NoBody
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	httpResp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	c.log.Debug("graph request",
		"method", method,
		"path", path,
		"status", httpResp.StatusCode,
		"duration", time.Since(start),
	)

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       data,
		path:       path,
	}
	if isTransientStatus(resp.StatusCode) {
		return resp, &statusError{code: resp.StatusCode}
	}
	return resp, nil
}

// resolve joins a relative path onto the base URL. Absolute URLs (such as
// @odata.nextLink values) are used unchanged.
func (c *Client) resolve(path string) (string, error) {
	if strings.HasPrefix(path, "https://") || strings.HasPrefix(path, "http://") {
		return path, nil
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parse path %q: %w", path, err)
	}
	if !strings.HasPrefix(ref.Path, "/") {
		ref.Path = "/" + ref.Path
	}
	return c.baseURL.ResolveReference(ref).String(), nil
}

func encodePayload(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(p), nil
	case []byte:
		return p, nil
	default:
		return json.Marshal(p)
	}
}
