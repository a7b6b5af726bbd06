package svcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/marketsplit-backend/pkg/auth"
	pkgerrors "github.com/angelmondragon/marketsplit-backend/pkg/errors"
	"github.com/sethvargo/go-retry"
)

const (
	defaultTimeout               = 5 * time.Second
	defaultMaxRetries            = 2
	defaultRetryBase             = 100 * time.Millisecond
	responseBodyReadLimit  int64 = 4096
	errorEnvelopeReadLimit int64 = 64 * 1024
)

var (
	errBaseURLRequired  = errors.New("service base url is required")
	errAudienceRequired = errors.New("service audience is required")
	errTokensRequired   = errors.New("service token issuer is required")
)

// Client calls another internal service over HTTP. Every request carries a
// freshly minted service token and runs under its own timeout. Network errors,
// 429 and 5xx responses are retried with exponential backoff; the endpoints it
// targets are idempotent by key.
type Client struct {
	httpClient *http.Client
	baseURL    string
	audience   string
	tokens     *auth.ServiceTokens
	timeout    time.Duration
	maxRetries uint64
	retryBase  time.Duration
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRetries overrides how many times a transient failure is retried and the
// first backoff delay.
func WithRetries(maxRetries uint64, base time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		if base > 0 {
			c.retryBase = base
		}
	}
}

// New builds a client for the service reachable at baseURL that accepts tokens
// minted for audience.
func New(baseURL, audience string, tokens *auth.ServiceTokens, timeout time.Duration, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errBaseURLRequired
	}
	if strings.TrimSpace(audience) == "" {
		return nil, errAudienceRequired
	}
	if tokens == nil {
		return nil, errTokensRequired
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := &Client{
		httpClient: &http.Client{},
		baseURL:    baseURL,
		audience:   audience,
		tokens:     tokens,
		timeout:    timeout,
		maxRetries: defaultMaxRetries,
		retryBase:  defaultRetryBase,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// StatusError is a non-2xx answer from the remote service. Code and Message are
// read from the standard error envelope when the body carries one.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("status %d: %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Message)
}

// AsStatus extracts a StatusError from err.
func AsStatus(err error) (*StatusError, bool) {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr, true
	}
	return nil, false
}

// Do sends method path with body encoded as JSON and decodes a 2xx response
// into out when out is non-nil. Transport failures surface as
// DEPENDENCY_UNAVAILABLE; remote rejections surface as *StatusError.
func (c *Client) Do(ctx context.Context, method, path string, scope auth.Scope, body, out any) error {
	if c == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "service client not configured")
	}

	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal service request")
		}
		payload = encoded
	}

	backoff := retry.WithMaxRetries(c.maxRetries, retry.NewExponential(c.retryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		return c.attempt(ctx, method, path, scope, payload, out)
	})
	if err == nil {
		return nil
	}
	if _, ok := AsStatus(err); ok {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("%s %s", method, path))
}

func (c *Client) attempt(ctx context.Context, method, path string, scope auth.Scope, payload []byte, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	token, err := c.tokens.Mint(c.audience, scope)
	if err != nil {
		return err
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+strings.TrimLeft(path, "/"), reader)
	if err != nil {
		return err
	}
	req.Header.Set(auth.ServiceTokenHeader, token)
	req.Header.Set("Accept", "application/json")
	if id := RequestIDFromContext(ctx); id != "" {
		req.Header.Set(RequestIDHeader, id)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return retry.RetryableError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := readStatusError(resp)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			return retry.RetryableError(statusErr)
		}
		return statusErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func readStatusError(resp *http.Response) *StatusError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, errorEnvelopeReadLimit))
	statusErr := &StatusError{StatusCode: resp.StatusCode}

	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &envelope) == nil && envelope.Error.Code != "" {
		statusErr.Code = envelope.Error.Code
		statusErr.Message = envelope.Error.Message
		return statusErr
	}

	if int64(len(raw)) > responseBodyReadLimit {
		raw = raw[:responseBodyReadLimit]
	}
	statusErr.Message = strings.TrimSpace(string(raw))
	return statusErr
}
