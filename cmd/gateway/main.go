// Package main is the entry point for the Airlock gateway binary. The
// gateway terminates bearer authentication at the boundary and proxies to
// the backend services; it never touches the database, so startup is just
// config, codec, and listener.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/airlock-platform/airlock/internal/config"
	"github.com/airlock-platform/airlock/internal/gateway"
	"github.com/airlock-platform/airlock/internal/telemetry"
	"github.com/airlock-platform/airlock/internal/token"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// The gateway only verifies tokens, but the codec still needs the full
	// signing config so verification matches what the backend issues.
	codec, err := token.NewCodec(token.Config{
		Secret:     cfg.JWT.Secret,
		Algorithm:  cfg.JWT.Algorithm,
		Issuer:     cfg.JWT.Issuer,
		AccessTTL:  cfg.JWT.AccessTTL(),
		RefreshTTL: cfg.JWT.RefreshTTL(),
	})
	if err != nil {
		return fmt.Errorf("token codec: %w", err)
	}

	gw, err := gateway.New(cfg, codec)
	if err != nil {
		return fmt.Errorf("gateway: %w", err)
	}

	if cfg.Telemetry.Metrics.Enabled {
		startMetricsServer(cfg.Telemetry.Metrics.PrometheusPort)
	}

	server := &http.Server{
		Addr:         cfg.Gateway.GetAddress(),
		Handler:      gw.Router(),
		ReadTimeout:  cfg.Gateway.ReadTimeout,
		WriteTimeout: cfg.Gateway.WriteTimeout,
	}

	go func() {
		slog.Info("starting gateway", "addr", cfg.Gateway.GetAddress(), "routes", len(cfg.Gateway.Routes))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start gateway: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down gateway")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("gateway forced to shutdown: %w", err)
	}
	gw.Shutdown()

	slog.Info("gateway stopped gracefully")
	return nil
}

func startMetricsServer(port int) {
	addr := fmt.Sprintf(":%d", port)
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		slog.Info("starting Prometheus metrics server", "addr", addr)
		srv := &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server error", "error", err)
		}
	}()
}
