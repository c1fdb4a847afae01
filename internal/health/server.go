package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type Checker struct {
	DBPing      func(ctx context.Context) error
	NetworkPing func(ctx context.Context) error
	// Progress reports the running reconciliation as (done, total).
	Progress func() (done, total int)
}

// Handler returns the /healthz handler.
func Handler(checker Checker) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		status := map[string]string{"status": "ok"}
		code := http.StatusOK

		if checker.DBPing != nil {
			if err := checker.DBPing(ctx); err != nil {
				status["db"] = "fail"
				code = http.StatusServiceUnavailable
			} else {
				status["db"] = "ok"
			}
		}
		if checker.NetworkPing != nil {
			if err := checker.NetworkPing(ctx); err != nil {
				status["networks"] = "fail"
				code = http.StatusServiceUnavailable
			} else {
				status["networks"] = "ok"
			}
		}
		if checker.Progress != nil {
			done, total := checker.Progress()
			status["progress"] = fmt.Sprintf("%d/%d", done, total)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	})
	return mux
}

// Serve starts a minimal /healthz handler.
func Serve(addr string, checker Checker) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(checker),
		ReadHeaderTimeout: 3 * time.Second,
	}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

// Shutdown gracefully shuts down the health server.
func Shutdown(ctx context.Context, srv *http.Server) error {
	return srv.Shutdown(ctx)
}
