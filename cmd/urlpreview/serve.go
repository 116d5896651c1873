package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ZhangHanDong/urlpreview/pkg/fetch"
	"github.com/ZhangHanDong/urlpreview/pkg/preview"
	"github.com/ZhangHanDong/urlpreview/pkg/security"
)

const shutdownGrace = 10 * time.Second

func runServe(ctx context.Context, addr string, svc *preview.Service, logger *slog.Logger) error {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/preview", handlePreview(svc, logger))
	r.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

func handlePreview(svc *preview.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		url := r.URL.Query().Get("url")
		if url == "" {
			http.Error(w, "missing url parameter", http.StatusBadRequest)
			return
		}

		p, err := svc.Preview(r.Context(), url)
		if err != nil {
			logger.Warn("preview failed", "url", url, "error", err)
			http.Error(w, err.Error(), statusFor(err))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(p); err != nil {
			logger.Warn("encode response", "error", err)
		}
	}
}

// statusFor maps preview errors onto HTTP statuses: the caller's URL is the
// problem for validation failures, upstream is for everything else.
func statusFor(err error) int {
	var schemeErr *security.SchemeError
	var domainErr *security.DomainError
	var ipErr *security.PrivateIPError
	switch {
	case errors.As(err, &schemeErr), errors.As(err, &domainErr), errors.As(err, &ipErr),
		errors.Is(err, security.ErrLocalhostBlocked), errors.Is(err, security.ErrNoHost):
		return http.StatusBadRequest
	case errors.Is(err, fetch.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}
