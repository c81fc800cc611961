// Command railclaw runs the crypto payment orchestration service: the HTTP
// API, the policy-driven request router, and the detached payment monitors.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/railclaw/railclaw/internal/circuitbreaker"
	"github.com/railclaw/railclaw/internal/config"
	"github.com/railclaw/railclaw/internal/evm"
	"github.com/railclaw/railclaw/internal/httpserver"
	"github.com/railclaw/railclaw/internal/lifecycle"
	"github.com/railclaw/railclaw/internal/logger"
	"github.com/railclaw/railclaw/internal/metrics"
	"github.com/railclaw/railclaw/internal/monitor"
	"github.com/railclaw/railclaw/internal/orchestrator"
	"github.com/railclaw/railclaw/internal/policy"
	"github.com/railclaw/railclaw/internal/sol"
	"github.com/railclaw/railclaw/internal/store"
)

const version = "0.3.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "railclaw: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	// Missing .env is fine; the environment may be set by the supervisor.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	appLogger := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "railclaw",
		Version:     version,
		Environment: cfg.Logging.Environment,
	})

	resources := lifecycle.NewManager()
	defer func() {
		if err := resources.Close(); err != nil {
			appLogger.Error().Err(err).Msg("shutdown.cleanup_failed")
		}
	}()

	st, err := buildStore(cfg)
	if err != nil {
		return err
	}
	resources.Register("store", st)

	m := metrics.New()
	breakers := circuitbreaker.NewManagerFromConfig(cfg.CircuitBreaker, appLogger)

	evmClients, solClient, err := buildChainClients(cfg, breakers, m, appLogger)
	if err != nil {
		return err
	}
	for chain, client := range evmClients {
		resources.Register("evm-"+chain, client)
	}

	registry := monitor.NewRegistry(appLogger)
	resources.Register("monitors", registry)

	direct := monitor.NewDirect(st, evmClients, cfg, m, appLogger)
	bridges := monitor.NewBridge(st, evmClients, solClient, cfg, m, appLogger)

	orch := orchestrator.New(
		policy.NewStore(cfg.Policy.Path),
		st, registry, direct, bridges, cfg, m, appLogger,
	)

	// Respawn monitors for payments interrupted by the last shutdown.
	if err := orch.Resume(context.Background()); err != nil {
		appLogger.Error().Err(err).Msg("boot.resume_failed")
	}

	server := httpserver.New(cfg, orch, st, m, appLogger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	appLogger.Info().
		Str("version", version).
		Str("address", cfg.Server.Address).
		Str("storage", cfg.Storage.Backend).
		Int("chains", len(evmClients)).
		Msg("railclaw.started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		appLogger.Info().Str("signal", sig.String()).Msg("railclaw.shutting_down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		appLogger.Error().Err(err).Msg("shutdown.server_failed")
	}

	return nil
}

func buildStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Storage.Backend {
	case "postgres":
		st, err := store.NewPostgresStore(cfg.Storage.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		return st, nil
	default:
		st, err := store.NewFileStore(cfg.Storage.DataDir)
		if err != nil {
			return nil, fmt.Errorf("init file store: %w", err)
		}
		return st, nil
	}
}

// buildChainClients dials every configured RPC endpoint. The "solana" entry
// gets the Solana adapter; everything else is treated as an EVM chain.
func buildChainClients(cfg *config.Config, breakers *circuitbreaker.Manager, m *metrics.Metrics, log zerolog.Logger) (map[string]*evm.Client, *sol.Client, error) {
	evmClients := make(map[string]*evm.Client)
	var solClient *sol.Client

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for chain, rpc := range cfg.RPC {
		name := strings.ToLower(chain)
		if name == "solana" {
			solClient = sol.NewClient(rpc.URL, breakers, m, log)
			continue
		}

		client, err := evm.Dial(ctx, name, rpc.URL, rpc.WSURL, breakers, m, log)
		if err != nil {
			return nil, nil, fmt.Errorf("dial %s: %w", name, err)
		}
		evmClients[name] = client
	}

	return evmClients, solClient, nil
}
