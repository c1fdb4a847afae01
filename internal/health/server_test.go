package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHealthEndpoint(t *testing.T) {
	tests := []struct {
		name         string
		checker      Checker
		wantCode     int
		wantDB       string
		wantNetworks string
		wantProgress string
	}{
		{
			name: "all_ok",
			checker: Checker{
				DBPing:      func(ctx context.Context) error { return nil },
				NetworkPing: func(ctx context.Context) error { return nil },
				Progress:    func() (int, int) { return 3, 10 },
			},
			wantCode:     http.StatusOK,
			wantDB:       "ok",
			wantNetworks: "ok",
			wantProgress: "3/10",
		},
		{
			name: "db_fail",
			checker: Checker{
				DBPing:      func(ctx context.Context) error { return context.DeadlineExceeded },
				NetworkPing: func(ctx context.Context) error { return nil },
			},
			wantCode:     http.StatusServiceUnavailable,
			wantDB:       "fail",
			wantNetworks: "ok",
		},
		{
			name: "network_fail",
			checker: Checker{
				DBPing:      func(ctx context.Context) error { return nil },
				NetworkPing: func(ctx context.Context) error { return context.DeadlineExceeded },
			},
			wantCode:     http.StatusServiceUnavailable,
			wantDB:       "ok",
			wantNetworks: "fail",
		},
		{
			name:     "no_checkers",
			checker:  Checker{},
			wantCode: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := Serve(":0", tt.checker)
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = Shutdown(ctx, srv)
			}()

			req := httptest.NewRequest(http.MethodGet, "http://localhost/healthz", nil)
			w := httptest.NewRecorder()

			srv.Handler.ServeHTTP(w, req)

			if w.Code != tt.wantCode {
				t.Errorf("status code = %d, want %d", w.Code, tt.wantCode)
			}

			var resp map[string]string
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}

			if resp["status"] != "ok" {
				t.Errorf("status = %q, want ok", resp["status"])
			}
			if tt.wantDB != "" && resp["db"] != tt.wantDB {
				t.Errorf("db = %q, want %q", resp["db"], tt.wantDB)
			}
			if tt.wantNetworks != "" && resp["networks"] != tt.wantNetworks {
				t.Errorf("networks = %q, want %q", resp["networks"], tt.wantNetworks)
			}
			if resp["progress"] != tt.wantProgress {
				t.Errorf("progress = %q, want %q", resp["progress"], tt.wantProgress)
			}
		})
	}
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestNetworkCheckerJoinsFailures(t *testing.T) {
	checker := NewNetworkChecker(map[string]Pinger{
		"tron":     pingFunc(func(context.Context) error { return errors.New("http status 503") }),
		"ethereum": pingFunc(func(context.Context) error { return errors.New("rate limited") }),
		"skipped":  nil,
	})
	err := checker.Ping(context.Background())
	if err == nil {
		t.Fatalf("expected failure")
	}
	msg := err.Error()
	if !strings.Contains(msg, "network tron: http status 503") || !strings.Contains(msg, "network ethereum: rate limited") {
		t.Fatalf("unexpected error: %v", msg)
	}
	if strings.Index(msg, "ethereum") > strings.Index(msg, "tron") {
		t.Fatalf("failures should be reported in name order: %v", msg)
	}

	ok := NewNetworkChecker(map[string]Pinger{"tron": pingFunc(func(context.Context) error { return nil })})
	if err := ok.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
