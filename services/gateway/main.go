// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/ModelForge/pkg/logging"
	"github.com/AleutianAI/ModelForge/services/gateway/config"
	"github.com/AleutianAI/ModelForge/services/gateway/dispatch"
	"github.com/AleutianAI/ModelForge/services/gateway/editor"
	"github.com/AleutianAI/ModelForge/services/gateway/mcp"
	"github.com/AleutianAI/ModelForge/services/gateway/observability"
	"github.com/AleutianAI/ModelForge/services/gateway/pipeline"
	"github.com/AleutianAI/ModelForge/services/gateway/project"
	"github.com/AleutianAI/ModelForge/services/gateway/registry"
	"github.com/AleutianAI/ModelForge/services/gateway/routes"
	"github.com/AleutianAI/ModelForge/services/gateway/session"
	"github.com/AleutianAI/ModelForge/services/gateway/storage/badgerstore"
	"github.com/AleutianAI/ModelForge/services/gateway/trace"
	"github.com/AleutianAI/ModelForge/services/gateway/usecase"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const serviceName = "modelforge-gateway"

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		// No collector configured: skip tracing entirely.
		return func(context.Context) {}, nil
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// dataDir resolves the pipeline database directory.
func dataDir(cfg *config.Config) string {
	if cfg.Pipeline.DataDir != "" {
		return cfg.Pipeline.DataDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "modelforge", "data")
	}
	return filepath.Join(home, ".modelforge", "data")
}

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := logging.New(logging.Config{
		Level:   logging.LevelInfo,
		LogDir:  cfg.LogDir,
		Service: "gateway",
		JSON:    true,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	// --- Init the tracer ---
	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	promRegistry := prometheus.NewRegistry()
	metrics := observability.New(promRegistry)

	reg, err := registry.New(cfg.Limits)
	if err != nil {
		log.Fatalf("failed to build tool registry: %v", err)
	}

	mem := editor.NewMemory()
	tmp, err := editor.NewDirTmpStore(cfg.TmpDir)
	if err != nil {
		log.Fatalf("failed to create scratch store: %v", err)
	}

	services := usecase.New(mem, mem, mem, nil, tmp,
		project.NewRevisionStore(cfg.RevisionHistory), cfg, logger.Slog())

	traceStore := trace.NewStore(cfg.Trace.MaxEntries, cfg.Trace.MaxBytes)
	var writer trace.Writer
	if cfg.Trace.FilePath != "" {
		fw, err := trace.NewFileWriter(cfg.Trace.FilePath)
		if err != nil {
			log.Fatalf("failed to create trace log: %v", err)
		}
		writer = fw
	}
	flusher := trace.NewFlushScheduler(traceStore, writer, cfg.Trace.FlushEvery, cfg.Trace.FlushInterval)
	flusher.OnFlush = func(int) { metrics.ObserveTraceFlush() }
	flusher.Start()
	defer flusher.Stop()

	recorder := trace.NewRecorder(traceStore, cfg.PluginVersion, "memory", flusher.OnAppend)
	dispatcher := dispatch.New(reg, services, recorder, metrics, cfg.AutoRetry, logger.Slog())

	persistence, err := badgerstore.Open(badgerstore.DefaultConfig(dataDir(cfg)))
	if err != nil {
		log.Fatalf("failed to open pipeline database: %v", err)
	}
	defer persistence.Close()
	pipelineStore := pipeline.NewStore(persistence, cfg.Pipeline, logger.Slog())
	pipelineStore.SetMetrics(metrics)

	sessions := session.NewStore(cfg.Session, metrics, logger.Slog())
	sessions.Start()
	defer sessions.Stop()

	server := mcp.NewServer(cfg, reg, dispatcher, sessions, services, traceStore, logger.Slog())

	router := gin.Default()
	router.Use(otelgin.Middleware(serviceName))
	routes.SetupRoutes(router, cfg, server, pipelineStore, promRegistry)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The MCP shutdown method and POSIX signals share one shutdown path.
	shutdownCtx, requestShutdown := context.WithCancel(ctx)
	defer requestShutdown()
	server.OnShutdown = requestShutdown

	group, groupCtx := errgroup.WithContext(shutdownCtx)
	group.Go(func() error {
		slog.Info("starting the gateway", "addr", cfg.ListenAddr, "mcp_path", cfg.MCPPath)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		slog.Info("shutting down the gateway")

		// Terminate SSE streams first so Shutdown does not wait out their
		// keep-alive loops.
		server.Close()

		timeout, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(timeout)
	})

	if err := group.Wait(); err != nil {
		log.Fatalf("gateway terminated: %v", err)
	}
}
