package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/cornd/internal/admission"
	"github.com/sawpanic/cornd/internal/cache"
	"github.com/sawpanic/cornd/internal/config"
	"github.com/sawpanic/cornd/internal/infrastructure/db"
	httpserver "github.com/sawpanic/cornd/internal/interfaces/http"
	"github.com/sawpanic/cornd/internal/interfaces/http/handlers"
	"github.com/sawpanic/cornd/internal/net/ratelimit"
)

const (
	appName = "cornd"
	version = "v1.0.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Corn purchase API with ledger-backed admission control",
		Version: version,
		Long: `cornd sells corn over HTTP, at most one per client per minute.

Purchases are recorded in an append-only Postgres ledger; the admission
decision compares elapsed time since the client's most recent purchase
to the rolling window, using the store's clock as the source of truth.`,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE:  runServe,
	}
	serveCmd.Flags().String("config", "config.yaml", "Path to YAML configuration file")

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Bootstrap the ledger schema and exit",
		RunE:  runMigrate,
	}
	migrateCmd.Flags().String("config", "config.yaml", "Path to YAML configuration file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	manager, err := db.NewManager(cfg.Database)
	if err != nil {
		return err
	}
	defer manager.Close()
	log.Info().Msg("database connection established")

	initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := manager.InitSchema(initCtx); err != nil {
		return err
	}
	log.Info().Msg("ledger schema initialized")

	metrics := httpserver.NewMetricsRegistry()

	deciderOpts := []admission.Option{admission.WithWindow(cfg.Admission.Window.Std())}
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		denyCache := cache.New(client, cfg.Redis.Timeout.Std(),
			cache.WithHitHook(metrics.DenyCacheHitsTotal.Inc))
		deciderOpts = append(deciderOpts, admission.WithDenyCache(denyCache))
		log.Info().Str("addr", cfg.Redis.Addr).Msg("redis deny cache enabled")
	}
	decider := admission.NewDecider(manager.Ledger(), deciderOpts...)

	var floodGuard *ratelimit.Limiter
	if cfg.FloodGuard.Enabled {
		floodGuard = ratelimit.NewLimiter(cfg.FloodGuard.RPS, cfg.FloodGuard.Burst)
	}

	h := handlers.NewHandlers(decider, manager.Ledger(), manager, metrics)
	server := httpserver.NewServer(cfg.Server, h, metrics, floodGuard)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	manager, err := db.NewManager(cfg.Database)
	if err != nil {
		return err
	}
	defer manager.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := manager.InitSchema(ctx); err != nil {
		return err
	}

	log.Info().Msg("ledger schema initialized")
	return nil
}
