package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const (
	DefaultTimeout      = 15 * time.Second
	DefaultCooldown     = 6 * time.Second
	DefaultMaxRetries   = 2
	maxResponseBodySize = 8 << 20
)

// RetryHook observes each throttled attempt; used for metrics.
type RetryHook func(host string, attempt int)

// Fetcher performs explorer GETs with a fixed cooldown retry on HTTP 429.
type Fetcher struct {
	Client     *http.Client
	Cooldown   time.Duration
	MaxRetries int
	Log        *slog.Logger
	OnRetry    RetryHook

	sleep func(ctx context.Context, d time.Duration) error
}

// NewFetcher builds a fetcher with the default timeout, cooldown and retry budget.
func NewFetcher(log *slog.Logger) *Fetcher {
	if log == nil {
		log = slog.Default()
	}
	return &Fetcher{
		Client:     &http.Client{Timeout: DefaultTimeout},
		Cooldown:   DefaultCooldown,
		MaxRetries: DefaultMaxRetries,
		Log:        log,
	}
}

// GetJSON issues a GET and decodes the JSON body into dst.
// 404 and empty/null bodies return ErrNotFound. 429 is retried after the cooldown
// up to MaxRetries times, then reported as ErrRateLimited. Anything else fails immediately.
func (f *Fetcher) GetJSON(ctx context.Context, url string, dst any) error {
	body, err := f.Get(ctx, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Get returns the raw response body under the same policy as GetJSON.
func (f *Fetcher) Get(ctx context.Context, url string) ([]byte, error) {
	return f.GetWithHeader(ctx, url, nil)
}

// GetWithHeader is Get with extra request headers (API keys).
func (f *Fetcher) GetWithHeader(ctx context.Context, url string, header http.Header) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		body, status, err := f.do(ctx, url, header)
		if err != nil {
			return nil, err
		}
		switch {
		case status == http.StatusNotFound:
			return nil, ErrNotFound
		case status == http.StatusTooManyRequests:
			if err := f.Throttled(ctx, hostOf(url), attempt); err != nil {
				return nil, err
			}
			continue
		case status < 200 || status >= 300:
			return nil, fmt.Errorf("http status %d", status)
		}

		trimmed := bytes.TrimSpace(body)
		if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
			return nil, ErrNotFound
		}
		return trimmed, nil
	}
}

// Throttled applies the cooldown policy after a rate-limit signal: an HTTP
// 429, an explorer message or a node error. attempt counts from 0. It returns nil once the cooldown has passed and the
// caller may retry, or ErrRateLimited when the retry budget is spent.
func (f *Fetcher) Throttled(ctx context.Context, host string, attempt int) error {
	if attempt >= f.MaxRetries {
		return fmt.Errorf("%s rate limited after %d retries: %w", host, attempt, ErrRateLimited)
	}
	log := f.Log
	if log == nil {
		log = slog.Default()
	}
	log.Warn("rate limited, cooling down", "host", host, "attempt", attempt+1, "cooldown", f.Cooldown)
	if f.OnRetry != nil {
		f.OnRetry(host, attempt+1)
	}
	return f.wait(ctx, f.Cooldown)
}

func (f *Fetcher) do(ctx context.Context, rawURL string, header http.Header) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("new request: %w", err)
	}
	for k, values := range header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		// url.Error carries the full query string, which may hold an api key.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, 0, fmt.Errorf("send request to %s: %w", req.URL.Host, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	return body, resp.StatusCode, nil
}

func (f *Fetcher) wait(ctx context.Context, d time.Duration) error {
	if f.sleep != nil {
		return f.sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Host
}
