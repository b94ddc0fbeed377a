package requester

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/dpeinsight/backend/pkg/utils"
)

// StatusError is returned for non-2xx responses other than 404
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("requester: %s returned status %d", e.URL, e.StatusCode)
}

// Temporary reports whether the status is worth retrying
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Observer receives one call per HTTP attempt
type Observer interface {
	ObserveRequest(host, outcome string, elapsed time.Duration)
}

// Fetcher issues GET requests for JSON documents with retries
type Fetcher struct {
	client   *http.Client
	policy   utils.RetryPolicy
	logger   *slog.Logger
	observer Observer
}

// NewFetcher creates a fetcher. A nil client gets a 15s timeout client
func NewFetcher(client *http.Client, policy utils.RetryPolicy, logger *slog.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	f := &Fetcher{client: client, policy: policy, logger: logger}
	f.policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		f.logger.Warn("Request failed, retrying", "attempt", attempt, "wait", wait, "error", err)
	}
	return f
}

// WithObserver attaches a per-attempt observer and returns f
func (f *Fetcher) WithObserver(o Observer) *Fetcher {
	f.observer = o
	return f
}

// GetJSON fetches rawURL with params and decodes the body into out.
//
// found is false with a nil error when the resource does not exist (404), the
// body is not valid JSON, or the server stayed unreachable after every retry.
// 5xx responses that outlast the retries and other non-2xx statuses are
// returned as *StatusError
func (f *Fetcher) GetJSON(ctx context.Context, rawURL string, params url.Values, out any) (bool, error) {
	target, err := buildURL(rawURL, params)
	if err != nil {
		return false, err
	}

	found, err := utils.Retry(ctx, f.policy, func() (bool, error) {
		return f.attempt(ctx, target, out)
	})
	if err == nil {
		return found, nil
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) || ctx.Err() != nil {
		return false, err
	}
	f.logger.Warn("Request abandoned after retries", "url", target, "error", err)
	return false, nil
}

func (f *Fetcher) attempt(ctx context.Context, target string, out any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return false, utils.Permanent(fmt.Errorf("requester: failed to create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		f.observe(req.URL.Host, "error", start)
		if ctx.Err() != nil {
			return false, utils.Permanent(ctx.Err())
		}
		return false, fmt.Errorf("requester: GET %s: %w", target, err)
	}
	defer resp.Body.Close()
	f.observe(req.URL.Host, fmt.Sprint(resp.StatusCode), start)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		statusErr := &StatusError{URL: target, StatusCode: resp.StatusCode}
		if statusErr.Temporary() {
			return false, statusErr
		}
		return false, utils.Permanent(statusErr)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("requester: failed to read %s: %w", target, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		f.logger.Warn("Response is not valid JSON", "url", target, "error", err)
		return false, nil
	}
	return true, nil
}

func (f *Fetcher) observe(host, outcome string, start time.Time) {
	if f.observer != nil {
		f.observer.ObserveRequest(host, outcome, time.Since(start))
	}
}

// buildURL merges params into the query string of rawURL. Cursor URLs
// returned by the APIs already carry their query and get no params
func buildURL(rawURL string, params url.Values) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("requester: invalid url %q: %w", rawURL, err)
	}
	if len(params) == 0 {
		return u.String(), nil
	}
	q := u.Query()
	for k, vs := range params {
		q.Del(k)
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
