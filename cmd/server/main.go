// Command server runs the feedsync session gateway.
package main

import (
	"context"
	"log"
	"time"

	"feedsync/internal/config"
	"feedsync/internal/middleware"
	"feedsync/internal/observability"
	"feedsync/internal/server"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	middleware.InitMiddleware(cfg)

	shutdownTracing, err := observability.InitTracing(observability.TracingConfig{
		ServiceName:  "feedsync-gateway",
		Environment:  cfg.Env,
		Enabled:      cfg.TracingEnabled,
		Exporter:     cfg.TracingExporter,
		OTLPEndpoint: cfg.OTLPEndpoint,
		SamplerRatio: cfg.TracingSampleRatio,
	})
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(ctx)
	}()

	if err := server.Run(cfg); err != nil {
		observability.GlobalLogger.Error("gateway exited", "error", err.Error())
	}
}
