package jira

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/sprintpulse/sprintsync/internal/debug"
)

// Sentinel errors wrapped by APIError.
var (
	ErrNotFound     = errors.New("jira: not found")
	ErrUnauthorized = errors.New("jira: unauthorized")
)

// APIError is a non-2xx response from Jira.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("jira API %s %s returned %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Unwrap maps status codes onto the package sentinels.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	}
	return nil
}

// Retryable reports whether the request may succeed if repeated.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// FieldConfig names the site specific custom fields.
type FieldConfig struct {
	StoryPoints string // e.g. customfield_10016
	Sprint      string // e.g. customfield_10020
	EpicLink    string // e.g. customfield_10014 (company-managed projects)
}

// DefaultFieldConfig matches a stock Jira Cloud site.
func DefaultFieldConfig() FieldConfig {
	return FieldConfig{
		StoryPoints: "customfield_10016",
		Sprint:      "customfield_10020",
		EpicLink:    "customfield_10014",
	}
}

// RetryPolicy controls retries of rate-limited and failed requests.
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxElapsed      time.Duration
}

// DefaultRetryPolicy is used by NewClient.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      5,
		InitialInterval: 500 * time.Millisecond,
		MaxElapsed:      2 * time.Minute,
	}
}

// SearchAPI selects the issue search endpoint.
type SearchAPI string

const (
	// SearchJQL is /rest/api/3/search/jql with nextPageToken pagination (Cloud).
	SearchJQL SearchAPI = "jql"
	// SearchLegacy is /rest/api/{2,3}/search with startAt pagination (Server/DC).
	SearchLegacy SearchAPI = "legacy"
)

// Client provides HTTP access to a Jira instance.
type Client struct {
	URL        string
	Username   string
	APIToken   string
	HTTPClient *http.Client
	UserAgent  string

	Fields    FieldConfig
	PageSize  int
	Retry     RetryPolicy
	SearchAPI SearchAPI
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.HTTPClient = hc }
}

// WithTimeout sets the HTTP request timeout. Zero keeps the default.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.HTTPClient.Timeout = d
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.UserAgent = ua }
}

// WithFields overrides the custom field ids. Empty ids keep the defaults.
func WithFields(f FieldConfig) Option {
	return func(c *Client) {
		if f.StoryPoints != "" {
			c.Fields.StoryPoints = f.StoryPoints
		}
		if f.Sprint != "" {
			c.Fields.Sprint = f.Sprint
		}
		if f.EpicLink != "" {
			c.Fields.EpicLink = f.EpicLink
		}
	}
}

// WithPageSize sets the search page size, capped at MaxPageSize when used.
func WithPageSize(n int) Option {
	return func(c *Client) { c.PageSize = n }
}

// WithRetry replaces the retry policy.
func WithRetry(p RetryPolicy) Option {
	return func(c *Client) { c.Retry = p }
}

// WithSearchAPI selects the search endpoint. Empty keeps the default.
func WithSearchAPI(api SearchAPI) Option {
	return func(c *Client) {
		if api != "" {
			c.SearchAPI = api
		}
	}
}

// NewClient creates a new Jira client with default fields and retry policy,
// then applies opts.
func NewClient(url, username, apiToken string, opts ...Option) *Client {
	c := &Client{
		URL:      strings.TrimSuffix(url, "/"),
		Username: username,
		APIToken: apiToken,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		UserAgent: "sprintsync/1.0",
		Fields:    DefaultFieldConfig(),
		PageSize:  DefaultPageSize,
		Retry:     DefaultRetryPolicy(),
		SearchAPI: SearchLegacy,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BuildIssueURL returns the browse URL for an issue key.
func (c *Client) BuildIssueURL(key string) string {
	return c.URL + "/browse/" + key
}

func (c *Client) pageSize() int {
	if c.PageSize <= 0 || c.PageSize > MaxPageSize {
		return DefaultPageSize
	}
	return c.PageSize
}

// retryAfterBackOff honours a server supplied Retry-After before falling back
// to the exponential schedule.
type retryAfterBackOff struct {
	backoff.BackOff
	next time.Duration
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	if b.next > 0 {
		d := b.next
		b.next = 0
		return d
	}
	return b.BackOff.NextBackOff()
}

func (c *Client) newBackOff(ctx context.Context) (*retryAfterBackOff, backoff.BackOff) {
	exp := backoff.NewExponentialBackOff()
	if c.Retry.InitialInterval > 0 {
		exp.InitialInterval = c.Retry.InitialInterval
	}
	if c.Retry.MaxElapsed > 0 {
		exp.MaxElapsedTime = c.Retry.MaxElapsed
	}
	ra := &retryAfterBackOff{BackOff: exp}
	return ra, backoff.WithContext(backoff.WithMaxRetries(ra, c.Retry.MaxRetries), ctx)
}

// doRequest executes an authenticated HTTP request and returns the response
// body. 429 and 5xx responses and transport errors are retried.
func (c *Client) doRequest(ctx context.Context, method, apiURL string, body []byte) ([]byte, error) {
	if c.URL == "" {
		return nil, fmt.Errorf("jira URL not configured")
	}
	if c.APIToken == "" {
		return nil, fmt.Errorf("jira API token not configured")
	}

	ra, bo := c.newBackOff(ctx)
	var respBody []byte
	attempt := 0

	op := func() error {
		attempt++
		start := time.Now()

		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, apiURL, bodyReader)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		c.setAuth(req)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.UserAgent)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		debug.Timef(start, "jira: %s %s -> %d (attempt %d)", method, req.URL.Path, resp.StatusCode, attempt)

		if resp.StatusCode == http.StatusNoContent {
			respBody = nil
			return nil
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			respBody = data
			return nil
		}

		apiErr := &APIError{
			Method:     method,
			Path:       req.URL.Path,
			StatusCode: resp.StatusCode,
			Body:       truncate(string(data), 512),
		}
		if !apiErr.Retryable() {
			return backoff.Permanent(apiErr)
		}
		ra.next = retryAfter(resp.Header.Get("Retry-After"))
		return apiErr
	}

	notify := func(err error, wait time.Duration) {
		debug.Logf("jira: retrying in %s after: %v\n", wait.Round(time.Millisecond), err)
	}
	if err := backoff.RetryNotify(op, bo, notify); err != nil {
		return nil, err
	}
	return respBody, nil
}

// setAuth sets the appropriate authentication header on the request.
// Cloud uses basic auth with email + API token; Server/DC personal access
// tokens go in a bearer header.
func (c *Client) setAuth(req *http.Request) {
	if c.Username != "" {
		auth := base64.StdEncoding.EncodeToString([]byte(c.Username + ":" + c.APIToken))
		req.Header.Set("Authorization", "Basic "+auth)
		return
	}
	req.Header.Set("Authorization", "Bearer "+c.APIToken)
}

// retryAfter parses a Retry-After header in seconds. HTTP-date values are
// ignored; the exponential schedule applies instead.
func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	const maxWait = 60
	if secs > maxWait {
		secs = maxWait
	}
	return time.Duration(secs) * time.Second
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
