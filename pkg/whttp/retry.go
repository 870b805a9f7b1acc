package whttp

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	DefaultMaxAttempts = 10
	DefaultDelay       = 2 * time.Second
	DefaultMaxDelay    = 30 * time.Second
)

// RetryPolicy bounds GetWithRetry. A zero MaxAttempts means
// DefaultMaxAttempts. Delay is used as given, so the zero value retries
// without pausing; callers wanting the usual pause set DefaultDelay.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	// Exponential switches from a fixed Delay to exponential backoff with
	// jitter, starting at Delay and capped at MaxDelay.
	Exponential bool
	MaxDelay    time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.Delay < 0 {
		p.Delay = 0
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.MaxDelay < p.Delay {
		p.MaxDelay = p.Delay
	}
	return p
}

// FailureFunc is told about every failed attempt, 1-based.
type FailureFunc func(attempt, maxAttempts int, err error)

// GetWithRetry GETs rawURL until a 2xx response arrives or the policy's
// attempts run out. Both transport errors and non-2xx statuses count as
// failed attempts. When every attempt fails the returned error describes the
// last failure: a *StatusError or the transport error.
func (c *Client) GetWithRetry(ctx context.Context, rawURL string, policy RetryPolicy, onFailure FailureFunc) (*WHTTPRes, error) {
	policy = policy.withDefaults()

	req, err := c.newRequest(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	rReq, err := retryablehttp.FromRequest(req)
	if err != nil {
		return nil, err
	}

	attempt := 0
	notify := func(err error) {
		if onFailure != nil {
			onFailure(attempt, policy.MaxAttempts, err)
		}
	}

	backoff := fixedBackoff
	if policy.Exponential {
		backoff = exponentialJitterBackoff
	}

	rc := &retryablehttp.Client{
		HTTPClient:   c.http,
		RetryWaitMin: policy.Delay,
		RetryWaitMax: policy.MaxDelay,
		RetryMax:     policy.MaxAttempts - 1,
		Backoff:      backoff,
		CheckRetry: func(ctx context.Context, resp *http.Response, err error) (bool, error) {
			attempt++
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			if err != nil {
				notify(err)
				return true, nil
			}
			if resp.StatusCode < 200 || resp.StatusCode > 299 {
				notify(&StatusError{URL: rawURL, StatusCode: resp.StatusCode})
				return true, nil
			}
			return false, nil
		},
		ErrorHandler: func(resp *http.Response, err error, numTries int) (*http.Response, error) {
			if err != nil {
				if resp != nil {
					resp.Body.Close()
				}
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				return nil, fmt.Errorf("giving up on %s after %d attempt(s): %w", rawURL, numTries, err)
			}
			if resp == nil {
				return nil, fmt.Errorf("giving up on %s after %d attempt(s)", rawURL, numTries)
			}
			statusErr := &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
			if last, rerr := readResponse(resp); rerr == nil {
				statusErr.Title = last.HTTPTitle
			}
			return nil, fmt.Errorf("giving up after %d attempt(s): %w", numTries, statusErr)
		},
	}

	resp, err := rc.Do(rReq)
	if err != nil {
		return nil, err
	}
	return readResponse(resp)
}

func fixedBackoff(min, _ time.Duration, _ int, _ *http.Response) time.Duration {
	return min
}

func exponentialJitterBackoff(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
	wait := retryablehttp.DefaultBackoff(min, max, attemptNum, resp)
	if wait <= 0 {
		return 0
	}
	half := wait / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}
