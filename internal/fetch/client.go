// Package fetch provides the upstream API clients draftwatch polls for live matches
// and the MatchSource implementations built on them.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
	"github.com/yourorg/draftwatch/internal/ratelimit"
)

// ErrNotFound is matched by errors for 404 responses, e.g. a live-stats window
// that does not exist yet because the game has not loaded.
var ErrNotFound = errors.New("resource not found")

// StatusError is returned for any non-2xx upstream response.
type StatusError struct {
	API  string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error: status %d, body: %s", e.API, e.Code, e.Body)
}

// Is lets errors.Is(err, ErrNotFound) match a 404.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.Code == http.StatusNotFound
}

// IsTransient reports whether err is the kind of upstream failure that should
// simply be tried again on the next tick: timeouts, refused connections, 429 and 5xx.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		switch se.Code {
		case http.StatusRequestTimeout, http.StatusTooManyRequests,
			http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, p := range []string{"connection refused", "connection reset by peer", "no such host", "eof"} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// NewHTTPClient creates an HTTP client with retry capabilities. Provider clients
// use retryMax 0: a failed poll waits for the next tick instead of retrying in place.
func NewHTTPClient(retryMax int, timeout time.Duration) *http.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = retryMax
	c.RetryWaitMin = 500 * time.Millisecond
	c.RetryWaitMax = 3 * time.Second
	c.Logger = nil
	// Hand the final response back so 5xx bodies surface as StatusError.
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler
	c.HTTPClient.Timeout = timeout
	return c.StandardClient()
}

// Client is a rate-limited JSON client for one upstream API. Every request
// passes through the API's limiter before it is sent.
type Client struct {
	name       string
	baseURL    string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	headers    map[string]string
}

// NewClient creates a client for the API called name. limiter may be nil.
func NewClient(name, baseURL string, httpClient *http.Client, limiter *ratelimit.Limiter) *Client {
	if httpClient == nil {
		httpClient = NewHTTPClient(0, 10*time.Second)
	}
	return &Client{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		limiter:    limiter,
		headers:    make(map[string]string),
	}
}

// WithHeader adds a header sent on every request.
func (c *Client) WithHeader(key, value string) *Client {
	if value != "" {
		c.headers[key] = value
	}
	return c
}

// Name returns the API name used in logs and errors.
func (c *Client) Name() string {
	return c.name
}

// GetJSON fetches baseURL+path and decodes the JSON body into out.
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Acquire(ctx); err != nil {
			return fmt.Errorf("%s rate limiter: %w", c.name, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	logrus.WithField("provider", c.name).Debugf("GET %s", path)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("error fetching data from %s: %w", c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{API: c.name, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error decoding %s response: %w", c.name, err)
	}
	return nil
}
