// Package transportrest fetches departure and arrival boards from a
// transport.rest style HTTP API (HAFAS behind a JSON facade).
package transportrest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/transitflow/transitflow/internal/model"
	tferrors "github.com/transitflow/transitflow/pkg/errors"
)

const maxBodySize = 16 << 20

// Client talks to the upstream API. One method call issues exactly one request.
type Client struct {
	baseURL   *url.URL
	client    *http.Client
	timeout   time.Duration
	userAgent string
	duration  int
	results   int
}

// Options configures Client behavior.
type Options struct {
	// Custom HTTP client
	Client *http.Client

	// Timeout bounds each request (default 10s).
	Timeout time.Duration

	// UserAgent is sent with every request.
	UserAgent string

	// Duration is the board window in minutes (default 30).
	Duration int

	// Results caps the number of board entries (default 50).
	Results int
}

// APIError represents a non-2xx HTTP response.
type APIError struct {
	StatusCode int
	Body       string // first 512 bytes
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// NewClient creates a client for the API rooted at rawURL.
func NewClient(rawURL string, opts *Options) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(rawURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %s", parsed.Scheme)
	}

	if opts == nil {
		opts = &Options{}
	}

	c := &Client{
		baseURL:   parsed,
		timeout:   opts.Timeout,
		userAgent: opts.UserAgent,
		duration:  opts.Duration,
		results:   opts.Results,
	}
	if c.timeout <= 0 {
		c.timeout = 10 * time.Second
	}
	if c.duration <= 0 {
		c.duration = 30
	}
	if c.results <= 0 {
		c.results = 50
	}

	if opts.Client != nil {
		c.client = opts.Client
	} else {
		c.client = &http.Client{Timeout: c.timeout}
	}

	return c, nil
}

// Locations searches stops by name.
func (c *Client) Locations(ctx context.Context, query string) ([]model.Location, error) {
	q := url.Values{}
	q.Set("query", query)
	q.Set("results", "10")
	q.Set("stops", "true")
	q.Set("addresses", "false")
	q.Set("poi", "false")

	body, reqURL, err := c.get(ctx, "/locations", q)
	if err != nil {
		return nil, err
	}

	var locations []model.Location
	if err := json.Unmarshal(body, &locations); err != nil {
		return nil, tferrors.TransientFetch(fmt.Errorf("decode locations: %w", err), reqURL)
	}
	return locations, nil
}

// Fetch returns the board of kind for station. An empty board is not an error.
func (c *Client) Fetch(ctx context.Context, station model.StationRef, kind model.EndpointKind) ([]model.RawEvent, error) {
	if !kind.Valid() {
		return nil, tferrors.FatalFetch(fmt.Errorf("unknown endpoint kind %q", kind), "")
	}

	q := url.Values{}
	q.Set("duration", strconv.Itoa(c.duration))
	q.Set("results", strconv.Itoa(c.results))
	q.Set("remarks", "true")

	path := "/stops/" + url.PathEscape(station.ID) + "/" + kind.String()
	body, reqURL, err := c.get(ctx, path, q)
	if err != nil {
		return nil, err
	}

	events, err := decodeBoard(body, kind)
	if err != nil {
		return nil, tferrors.TransientFetch(err, reqURL).
			WithContext("station", station.Name)
	}
	return events, nil
}

// decodeBoard accepts both the v6 envelope ({"departures": [...]}) and the
// older bare-array response.
func decodeBoard(body []byte, kind model.EndpointKind) ([]model.RawEvent, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("decode %s: empty body", kind)
	}

	events := []model.RawEvent{}
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &events); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		return events, nil
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	raw, ok := envelope[kind.String()]
	if !ok || string(raw) == "null" {
		return events, nil
	}
	if err := json.Unmarshal(raw, &events); err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	return events, nil
}

// get issues one GET and classifies the outcome. The returned URL is for
// error context only.
func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, string, error) {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	u.RawQuery = query.Encode()
	reqURL := u.String()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, reqURL, tferrors.FatalFetch(fmt.Errorf("failed to create request: %w", err), reqURL)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, reqURL, tferrors.TransientFetch(fmt.Errorf("request failed: %w", err), reqURL)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, reqURL, tferrors.TransientFetch(fmt.Errorf("read body: %w", err), reqURL)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, reqURL, nil
	}

	bodyStr := string(body)
	if len(bodyStr) > 512 {
		bodyStr = bodyStr[:512]
	}
	apiErr := &APIError{StatusCode: resp.StatusCode, Body: bodyStr}

	if IsTransientStatus(resp.StatusCode) {
		return nil, reqURL, tferrors.TransientFetch(apiErr, reqURL).WithContext("status", resp.StatusCode)
	}
	return nil, reqURL, tferrors.FatalFetch(apiErr, reqURL).WithContext("status", resp.StatusCode)
}

// IsTransientStatus reports whether an HTTP status is worth retrying:
// 5xx, 429 Too Many Requests and 408 Request Timeout.
func IsTransientStatus(status int) bool {
	return status >= 500 || status == http.StatusTooManyRequests || status == http.StatusRequestTimeout
}
