package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestFetcher() *Fetcher {
	f := NewFetcher(nil)
	f.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return f
}

func TestFetcherRetriesOn429ThenSucceeds(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	f := newTestFetcher()
	var retries int
	f.OnRetry = func(host string, attempt int) { retries++ }

	var out struct {
		OK bool `json:"ok"`
	}
	if err := f.GetJSON(context.Background(), server.URL, &out); err != nil {
		t.Fatalf("get: %v", err)
	}
	if !out.OK {
		t.Fatalf("body not decoded")
	}
	if calls != 3 || retries != 2 {
		t.Fatalf("calls=%d retries=%d, want 3 and 2", calls, retries)
	}
}

func TestFetcherExhaustsRateLimit(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := newTestFetcher().Get(context.Background(), server.URL)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 1 attempt + 2 retries, got %d", calls)
	}
}

func TestFetcherStatusHandling(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
		anyErr  bool
	}{
		{name: "not_found", status: http.StatusNotFound, wantErr: ErrNotFound},
		{name: "null_body", status: http.StatusOK, body: "null", wantErr: ErrNotFound},
		{name: "empty_body", status: http.StatusOK, body: "  ", wantErr: ErrNotFound},
		{name: "server_error", status: http.StatusBadGateway, anyErr: true},
		{name: "ok", status: http.StatusOK, body: `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := newTestFetcher().Get(context.Background(), server.URL)
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
			case tt.anyErr:
				if err == nil {
					t.Fatalf("expected error")
				}
			default:
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
			}
			if calls != 1 {
				t.Fatalf("expected a single attempt, got %d", calls)
			}
		})
	}
}

func TestNormalizeToken(t *testing.T) {
	tests := map[string]string{
		"":           "",
		"USDT":       USDT,
		" usdt ":     USDT,
		"Tether":     USDT,
		"TETHER USD": USDT,
		"USDC":       USDC,
		"dolar":      USDC,
	}
	for in, want := range tests {
		if got := NormalizeToken(in); got != want {
			t.Errorf("NormalizeToken(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeNetwork(t *testing.T) {
	tests := map[string]Network{
		"TRC20":    TRC20,
		"trc 20":   TRC20,
		"Tron":     TRC20,
		"erc-20":   ERC20,
		"Ethereum": ERC20,
		"":         Network(""),
		"polygon":  Network("POLYGON"),
	}
	for in, want := range tests {
		if got := NormalizeNetwork(in); got != want {
			t.Errorf("NormalizeNetwork(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFetcherThrottledBudget(t *testing.T) {
	f := newTestFetcher()
	var waits int
	f.sleep = func(ctx context.Context, d time.Duration) error {
		if d != DefaultCooldown {
			t.Fatalf("cooldown = %s", d)
		}
		waits++
		return nil
	}
	for attempt := 0; attempt < DefaultMaxRetries; attempt++ {
		if err := f.Throttled(context.Background(), "node", attempt); err != nil {
			t.Fatalf("attempt %d: %v", attempt, err)
		}
	}
	if err := f.Throttled(context.Background(), "node", DefaultMaxRetries); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited once the budget is spent, got %v", err)
	}
	if waits != DefaultMaxRetries {
		t.Fatalf("waited %d times, want %d", waits, DefaultMaxRetries)
	}
}
