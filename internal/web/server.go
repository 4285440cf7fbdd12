package web

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/johnnysoutodev/desafio-capsula-do-tempo-com-ia/internal/config"
	"github.com/johnnysoutodev/desafio-capsula-do-tempo-com-ia/internal/scheduler"
)

// NewServer creates and configures the HTTP server for the capsula API.
func NewServer(db *sql.DB, cfg *config.Config, sched *scheduler.Scheduler) *http.Server {
	h := &Handlers{
		db:    db,
		cfg:   cfg,
		sched: sched,
	}

	mux := http.NewServeMux()

	// Routes using Go 1.22+ pattern syntax
	mux.HandleFunc("GET /healthz", h.HandleHealth)

	mux.HandleFunc("POST /capsules", h.HandleCreate)
	mux.HandleFunc("GET /capsules", h.HandleList)
	mux.HandleFunc("GET /capsules/stats", h.HandleStats)
	mux.HandleFunc("GET /capsules/{id}", h.HandleGet)
	mux.HandleFunc("POST /capsules/{id}/abandon", h.HandleAbandon)

	mux.HandleFunc("GET /scheduler/status", h.HandleSchedulerStatus)
	mux.HandleFunc("POST /scheduler/run", h.HandleSchedulerRun)
	mux.HandleFunc("POST /scheduler/start", h.HandleSchedulerStart)
	mux.HandleFunc("POST /scheduler/stop", h.HandleSchedulerStop)
	mux.HandleFunc("POST /scheduler/stats/reset", h.HandleSchedulerResetStats)

	// Wrap with security headers
	handler := securityHeaders(mux)

	return &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Bind, cfg.Port),
		Handler: handler,
	}
}

// securityHeaders adds security-related HTTP headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'none'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// Run starts the HTTP server and handles graceful shutdown on SIGINT/SIGTERM.
// The scheduler is drained before the listener closes so no half-processed
// batch is abandoned.
func Run(srv *http.Server, sched *scheduler.Scheduler) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	log.Printf("capsula API running at http://%s", srv.Addr)

	if strings.Contains(srv.Addr, "0.0.0.0") || strings.Contains(srv.Addr, "::") {
		log.Printf("WARNING: Server is binding to all interfaces and may be accessible from the network")
	}

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		log.Println("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if sched != nil {
			if _, err := sched.Stop(ctx); err != nil {
				log.Printf("scheduler drain failed: %v", err)
			}
		}
		return srv.Shutdown(ctx)
	}
}
