package hub

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	pkgerrors "github.com/bondai/universal-reporter/pkg/errors"
)

const (
	// APIKeyHeader carries the merchant or server credential.
	APIKeyHeader = "X-API-Key"

	defaultTimeout              = 10 * time.Second
	responseBodyReadLimit int64 = 1 << 20
)

var errEndpointRequired = errors.New("redemption endpoint is required")

// Client posts redemption records to the Bondai hub (or to a relay in front of it).
type Client struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
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

// WithTimeout replaces the default client with one using timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient = &http.Client{Timeout: timeout}
		}
	}
}

// NewClient builds a client for endpoint. An empty apiKey omits the header.
func NewClient(endpoint, apiKey string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, errEndpointRequired
	}

	client := &Client{
		endpoint:   trimmed,
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return client, nil
}

// Response is the raw upstream answer; interpretation is left to callers.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// OK reports a 2xx status.
func (r Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

func (c *Client) Endpoint() string {
	if c == nil {
		return ""
	}
	return c.endpoint
}

// Post sends body as JSON. Any failure to get a response back is a
// CodeTransport error; non-2xx statuses are returned as a normal Response.
func (c *Client) Post(ctx context.Context, body []byte) (Response, error) {
	if c == nil {
		return Response{}, pkgerrors.New(pkgerrors.CodeConfiguration, "redemption client not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Response{}, pkgerrors.Wrap(pkgerrors.CodeTransport, err, "build redemption request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(APIKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{}, pkgerrors.Wrap(pkgerrors.CodeTransport, err, "execute redemption request")
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
	if err != nil {
		return Response{}, pkgerrors.Wrap(pkgerrors.CodeTransport, fmt.Errorf("status %d: %w", resp.StatusCode, err), "read redemption response")
	}

	return Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        data,
	}, nil
}
