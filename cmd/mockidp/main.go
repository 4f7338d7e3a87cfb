// Package main runs the mock identity provider used for local development
// and integration tests. It serves the three OAuth endpoints the backend
// needs (authorize, token, userinfo) with fixture users and in-memory
// authorization codes; nothing persists across restarts.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/airlock-platform/airlock/internal/idp"
	"github.com/airlock-platform/airlock/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	addr := flag.String("addr", ":9000", "listen address")
	logFormat := flag.String("log-format", "text", "log format (json or text)")
	flag.Parse()

	telemetry.SetupLogger(*logFormat, "info")
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.Use(gin.Recovery())
	idp.NewServer().Routes(engine)

	server := &http.Server{
		Addr:         *addr,
		Handler:      engine,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("starting mock identity provider", "addr", *addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start mock IdP: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down mock identity provider")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("forced to shutdown: %w", err)
	}
	return nil
}
