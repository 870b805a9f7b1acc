package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rua-project/rua/pkg/whttp"
)

const DefaultBaseURL = "https://deepstatemap.live"

// ErrIndexUnavailable wraps any failure to retrieve the history index.
var ErrIndexUnavailable = errors.New("history index unavailable")

// AttemptLogger receives failed snapshot fetch attempts.
type AttemptLogger func(id int64, attempt, maxAttempts int, err error)

// Client talks to the history API.
type Client struct {
	baseURL   string
	http      *whttp.Client
	retry     whttp.RetryPolicy
	onAttempt AttemptLogger
}

// NewClient builds a history API client. An empty baseURL selects
// DefaultBaseURL.
func NewClient(baseURL string, httpClient *whttp.Client, retry whttp.RetryPolicy, onAttempt AttemptLogger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      httpClient,
		retry:     retry,
		onAttempt: onAttempt,
	}
}

func (c *Client) IndexURL() string {
	return c.baseURL + "/api/history/public"
}

func (c *Client) AreasURL(id int64) string {
	return c.baseURL + "/api/history/" + strconv.FormatInt(id, 10) + "/areas"
}

// ListEntries fetches the history index with a single request. Any failure
// is wrapped in ErrIndexUnavailable; there is nothing to do without it.
func (c *Client) ListEntries(ctx context.Context) ([]HistoryEntry, error) {
	res, err := c.http.Get(ctx, c.IndexURL())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIndexUnavailable, err)
	}
	if !res.IsSuccess() {
		return nil, fmt.Errorf("%w: %w", ErrIndexUnavailable, &whttp.StatusError{URL: c.IndexURL(), StatusCode: res.StatusCode, Title: res.HTTPTitle})
	}

	if err := validateIndex(res.BodyString); err != nil {
		return nil, fmt.Errorf("failed to decode history index: %w", err)
	}
	var entries []HistoryEntry
	if err := json.Unmarshal([]byte(res.BodyString), &entries); err != nil {
		return nil, fmt.Errorf("failed to decode history index: %w", err)
	}
	return entries, nil
}

// FetchAreas returns the raw areas payload of one snapshot, retrying as the
// client's policy allows.
func (c *Client) FetchAreas(ctx context.Context, id int64) (string, error) {
	var onFailure whttp.FailureFunc
	if c.onAttempt != nil {
		onFailure = func(attempt, maxAttempts int, err error) {
			c.onAttempt(id, attempt, maxAttempts, err)
		}
	}

	res, err := c.http.GetWithRetry(ctx, c.AreasURL(id), c.retry, onFailure)
	if err != nil {
		return "", err
	}
	return res.BodyString, nil
}
