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

	_ "github.com/mattn/go-sqlite3" // bundled driver for the default config
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/quarryql/quarry/internal/audit"
	"github.com/quarryql/quarry/internal/cache"
	"github.com/quarryql/quarry/internal/compiled"
	"github.com/quarryql/quarry/internal/config"
	"github.com/quarryql/quarry/internal/engine"
	"github.com/quarryql/quarry/internal/eventbus"
	"github.com/quarryql/quarry/internal/introspection"
	"github.com/quarryql/quarry/internal/observer"
	"github.com/quarryql/quarry/internal/otel"
	"github.com/quarryql/quarry/internal/schema"
	"github.com/quarryql/quarry/internal/security"
	"github.com/quarryql/quarry/internal/server"
	"github.com/quarryql/quarry/internal/sqlrt"
)

func newServerCmd() *cobra.Command {
	var schemaPath, configPath, addr string
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Serve a compiled artifact over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := runServer(cmd.Context(), schemaPath, configPath, addr); err != nil {
				return &startupError{err: err}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&schemaPath, "schema", "schema.compiled.json", "compiled artifact path")
	cmd.Flags().StringVar(&configPath, "config", "", "TOML configuration file")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func runServer(ctx context.Context, schemaPath, configPath, addr string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}

	cs, err := compiled.LoadFile(schemaPath)
	if err != nil {
		return err
	}
	if cs.Dialect != cfg.Database.Driver {
		return fmt.Errorf("artifact compiled for dialect %q but database.driver is %q; recompile against this configuration",
			cs.Dialect, cfg.Database.Driver)
	}
	sch, err := schema.BuildFromCompiled(cs)
	if err != nil {
		return err
	}

	bus := eventbus.New()
	shutdownTracing, err := otel.Setup(cfg.Observability.OTLPEndpoint, cfg.Observability.ServiceName, bus)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	rt, err := sqlrt.Open(&cfg.Database, cs, bus)
	if err != nil {
		return err
	}
	defer rt.Close()

	var runtime engine.Runtime = rt
	if cfg.Observability.Introspection {
		wrapper := introspection.Wrap(runtime, sch)
		runtime = wrapper.Runtime
		sch = wrapper.Schema
	}

	engOpts := engine.Options{Bus: bus}
	if cfg.Cache.Enabled {
		engOpts.Cache = cache.New()
		engOpts.DefaultTTL = cfg.Cache.DefaultTTL.Std()
	}
	eng := engine.New(runtime, sch, cs, engOpts)

	dispatcher := observer.New(cs, cfg.Security.WebhookHMACSecret, bus, observer.Options{})
	defer dispatcher.Close()

	if cfg.Security.AuditLogging.Enabled {
		detach := audit.Attach(bus, logger)
		defer detach()
	}

	verifier := security.NewVerifier(cfg.Security.JWTSecret)
	var limiter *rate.Limiter
	if cfg.Security.RateLimiting.Enabled {
		limiter = rate.NewLimiter(rate.Limit(cfg.Security.RateLimiting.RequestsPerSecond), cfg.Security.RateLimiting.Burst)
	}

	sopts := []server.Option{server.WithTimeout(cfg.Server.Timeout.Std())}
	if cfg.Server.Pretty {
		sopts = append(sopts, server.WithPretty())
	}
	if cfg.Server.MaxBodyBytes > 0 {
		sopts = append(sopts, server.WithMaxBodyBytes(cfg.Server.MaxBodyBytes))
	}
	if cfg.Security.CORS.Enabled {
		sopts = append(sopts, server.WithCORS(cfg.Security.CORS.AllowedOrigins...))
	}

	mux := http.NewServeMux()
	mux.Handle("/graphql", server.New(eng, verifier, limiter, bus, sopts...))
	mux.Handle("/subscriptions", server.NewStreamHandler(cs, verifier, bus))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := rt.DB().PingContext(pingCtx); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	srv := &http.Server{
		Addr:        cfg.Server.Addr,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("quarry listening",
		"addr", cfg.Server.Addr,
		"dialect", cs.Dialect,
		"checksum", cs.Checksum(),
		"operations", len(cs.Operations))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
