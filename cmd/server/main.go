package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	issuancehandler "trustmint/internal/issuance/handler"
	"trustmint/internal/platform/config"
	"trustmint/internal/platform/httpserver"
	"trustmint/internal/platform/logger"
	"trustmint/internal/platform/metrics"
	verificationhandler "trustmint/internal/verification/handler"
	"trustmint/pkg/platform/httputil"
)

// main wires configuration, stores and services, exposes the HTTP router, and
// keeps the server lifecycle small. Business logic lives in the services.
func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialise", "error", err)
		os.Exit(1)
	}
	defer app.close()

	httpMetrics := metrics.New()
	router := chi.NewRouter()
	router.Get("/healthz", app.health)
	router.Handle("/metrics", promhttp.Handler())
	issueTimeout := cfg.Ledger.ValidationTimeout + cfg.Server.ShutdownTimeout
	verificationhandler.New(app.verification, log, httpMetrics, cfg.Provider.WebhookSecret).Register(router)
	issuancehandler.New(app.issuance, log, httpMetrics, issueTimeout).Register(router)

	srv := httpserver.New(cfg.Server.Addr, router, issueTimeout+10*time.Second)
	go func() {
		log.Info("starting trustmint", "addr", cfg.Server.Addr, "network", cfg.Ledger.Network)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}

func (a *app) health(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok", "provider_circuit": string(a.breakerState())}
	code := http.StatusOK
	for name, check := range a.checks {
		if err := check(r.Context()); err != nil {
			status[name] = err.Error()
			status["status"] = "degraded"
			code = http.StatusServiceUnavailable
		} else {
			status[name] = "ok"
		}
	}
	httputil.WriteJSON(w, code, status)
}
