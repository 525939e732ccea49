// Copyright 2026 The Actor Engine Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command engined runs the actor engine as a single binary: the
// workflow engine and its actor/runner/serverless workflow definitions,
// the gateway's HTTP request pipeline, and the runner websocket listener,
// all backed by one kvstore.Store and pubsub.Bus pair.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/rivet-gg/actor-engine/internal/actor"
	"github.com/rivet-gg/actor-engine/internal/gateway"
	"github.com/rivet-gg/actor-engine/internal/keyreservation"
	"github.com/rivet-gg/actor-engine/internal/log"
	"github.com/rivet-gg/actor-engine/internal/namespace"
	"github.com/rivet-gg/actor-engine/internal/runner"
	"github.com/rivet-gg/actor-engine/internal/runner/wire"
	"github.com/rivet-gg/actor-engine/internal/serverless"
	"github.com/rivet-gg/actor-engine/internal/workflow"
	"github.com/rivet-gg/actor-engine/pkg/kvstore"
	"github.com/rivet-gg/actor-engine/pkg/observability"
	"github.com/rivet-gg/actor-engine/pkg/pubsub"
)

// version is injected via -ldflags at build time.
var version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "engined",
		Short:   "Run the actor engine server",
		Version: version,
	}
	root.AddCommand(newServeCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type serveFlags struct {
	listenAddr   string
	storeBackend string
	sqlitePath   string
	busBackend   string
	redisAddr    string
	datacenterID uint16
	adminSecret  string
	workerID     string
	otelExporter string
	otelEndpoint string
}

func newServeCommand() *cobra.Command {
	flags := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the engine's HTTP gateway, runner listener, and workflow worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), flags)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.listenAddr, "listen", ":8080", "HTTP listen address for the gateway and runner websocket endpoint")
	f.StringVar(&flags.storeBackend, "store", "memory", "Storage backend: memory or sqlite")
	f.StringVar(&flags.sqlitePath, "sqlite-path", "engine.db", "Path to the sqlite database file, when --store=sqlite")
	f.StringVar(&flags.busBackend, "bus", "memory", "Pub/sub backend: memory or redis")
	f.StringVar(&flags.redisAddr, "redis-addr", "localhost:6379", "Redis address, when --bus=redis")
	f.Uint16Var(&flags.datacenterID, "datacenter-id", 1, "This process's datacenter label, embedded in generated ids")
	f.StringVar(&flags.adminSecret, "admin-secret", "", "HMAC secret for signing/verifying admin tokens; empty disables runner connection authentication")
	f.StringVar(&flags.workerID, "worker-id", "engined", "This worker's identity, used for workflow lease ownership")
	f.StringVar(&flags.otelExporter, "otel-exporter", "none", "Trace exporter: none, stdout, otlp-grpc, or otlp-http")
	f.StringVar(&flags.otelEndpoint, "otel-endpoint", "", "OTLP collector endpoint, when --otel-exporter is otlp-grpc or otlp-http")

	return cmd
}

func runServe(ctx context.Context, flags *serveFlags) error {
	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	store, err := openStore(flags)
	if err != nil {
		return fmt.Errorf("engined: open store: %w", err)
	}

	bus, err := openBus(flags)
	if err != nil {
		return fmt.Errorf("engined: open pubsub bus: %w", err)
	}

	tracerProvider, err := observability.NewOtelProvider(ctx, observability.OtelConfig{
		ServiceName: "actor-engine",
		Exporter:    observability.OtelExporterKind(flags.otelExporter),
		Endpoint:    flags.otelEndpoint,
	})
	if err != nil {
		return fmt.Errorf("engined: build tracer provider: %w", err)
	}
	defer tracerProvider.Shutdown(context.Background())

	engine := workflow.NewEngine(store, bus, flags.datacenterID, logger, time.Now)

	keyres := keyreservation.New(store)
	actor.Register(engine, actor.Deps{KeyReservation: keyres, Thresholds: actor.DefaultThresholds})

	registry := wire.NewRegistry()
	runner.Register(engine, runner.Deps{Dispatcher: registry, Thresholds: runner.DefaultThresholds})

	nsStore := namespace.New()
	var authenticator *gateway.AdminAuthenticator
	if flags.adminSecret != "" {
		authenticator = gateway.NewAdminAuthenticator([]byte(flags.adminSecret))
	}
	var adminToken string
	if authenticator != nil {
		adminToken, err = authenticator.IssueToken("serverless-pool", 24*time.Hour)
		if err != nil {
			return fmt.Errorf("engined: issue serverless pool admin token: %w", err)
		}
	}
	serverless.Register(engine, serverless.Deps{
		Client:     serverless.NewHTTPSSEClient(),
		Dispatcher: registry,
		Engine:     engine,
		AdminToken: adminToken,
		Thresholds: serverless.DefaultThresholds,
	})

	autoscaler := serverless.NewAutoscaler(store, engine, nsStore)

	worker := workflow.NewWorker(flags.workerID, engine)

	resolver := gateway.NewStoreResolver(store)
	tunnel := gateway.NewTunnel(bus)
	wsTunnel := gateway.NewWSTunnel(bus)
	gw := gateway.NewGateway(resolver, tunnel, wsTunnel)
	gw.Logger = logger
	gw.Tracer = tracerProvider.Tracer("actor-engine.gateway")

	runnerHandler := wire.NewHandler(engine, store, registry, runner.DefaultThresholds, authenticator)
	runnerHandler.Logger = logger

	mux := http.NewServeMux()
	mux.Handle("/runners/connect", runnerHandler)
	mux.Handle("/", gw)

	httpServer := &http.Server{Addr: flags.listenAddr, Handler: mux}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 3)
	go func() {
		logger.Info("gateway listening", slog.String("addr", flags.listenAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("gateway: %w", err)
		}
	}()
	go func() {
		if err := worker.Run(ctx); err != nil {
			errCh <- fmt.Errorf("worker: %w", err)
		}
	}()
	go func() {
		if err := autoscaler.Run(ctx); err != nil {
			errCh <- fmt.Errorf("autoscaler: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", slog.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("server error", log.Error(err))
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}

func openStore(flags *serveFlags) (kvstore.Store, error) {
	switch flags.storeBackend {
	case "sqlite":
		return kvstore.OpenSQLiteStore(flags.sqlitePath)
	case "memory", "":
		return kvstore.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", flags.storeBackend)
	}
}

func openBus(flags *serveFlags) (pubsub.Bus, error) {
	switch flags.busBackend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: flags.redisAddr})
		return pubsub.NewRedisBus(client), nil
	case "memory", "":
		return pubsub.NewMemoryBus(), nil
	default:
		return nil, fmt.Errorf("unknown bus backend %q", flags.busBackend)
	}
}
