package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/controlface/deploy-console/internal/api"
	"github.com/controlface/deploy-console/internal/config"
	"github.com/controlface/deploy-console/internal/dispatch"
	"github.com/controlface/deploy-console/internal/events"
	"github.com/controlface/deploy-console/internal/github"
	"github.com/controlface/deploy-console/internal/metrics"
	"github.com/controlface/deploy-console/internal/registry"
	"github.com/controlface/deploy-console/internal/storage"
	"github.com/controlface/deploy-console/pkg/crypto"
)

func main() {
	// Command line flags
	var configFile, hashPIN string
	var genSecret bool
	flag.StringVar(&configFile, "config", "config/console-server.yml", "Configuration file path")
	flag.StringVar(&hashPIN, "hash-pin", "", "Print a bcrypt hash of the given PIN for gate.pin_hash and exit")
	flag.BoolVar(&genSecret, "gen-secret", false, "Print a random JWT secret and exit")
	flag.Parse()

	if hashPIN != "" || genSecret {
		if err := runHelper(hashPIN, genSecret); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Load configuration
	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	setupLogging(cfg.Log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tenant store
	store, err := openStore(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Database.Driver).Msg("Failed to open tenant store")
	}
	defer store.Close()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.NewMetrics()
	}

	// Deploy dispatcher
	gh, err := github.NewClient(github.Config{
		BaseURL: cfg.GitHub.BaseURL,
		Token:   cfg.GitHub.Token,
		Timeout: cfg.GitHub.Timeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create GitHub client")
	}
	if !gh.HasToken() {
		log.Warn().Msg("GITHUB_PAT not set, deploys will fail")
	}
	dispatcher := dispatch.New(gh, dispatch.Target{
		Owner:    cfg.GitHub.Owner,
		Repo:     cfg.GitHub.Repo,
		Workflow: cfg.GitHub.Workflow,
		Ref:      cfg.GitHub.Ref,
	}, m)

	// Optional: NATS event publishing
	var publisher events.Publisher = events.Nop{}
	if cfg.NATS.URL != "" {
		nc, err := connectNATS(cfg.NATS)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to connect to NATS, continuing without events")
		} else {
			defer nc.Close()
			log.Info().Str("url", cfg.NATS.URL).Msg("Connected to NATS")
			publisher = events.NewNATSPublisher(nc, cfg.NATS.SubjectPrefix)
		}
	} else {
		log.Info().Msg("NATS not configured, running in standalone mode")
	}

	// Operator views, one per session
	views := registry.NewManager(registry.ManagerOptions{
		Store:     store,
		Deployer:  dispatcher,
		Publisher: publisher,
		Metrics:   m,
	})

	apiServer := api.NewRESTServer(cfg, store, dispatcher, views)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		views.Run(ctx, cfg.Registry.SweepInterval)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := apiServer.ListenAndServe(cfg.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("REST API server failed")
		}
	}()

	// Wait for signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown API server gracefully")
	}

	// Stops the sweeper, which closes every view
	cancel()

	wg.Wait()

	log.Info().Msg("Console server stopped")
}

// runHelper prints config values that must not be typed in clear
func runHelper(pin string, genSecret bool) error {
	if pin != "" {
		hash, err := crypto.HashPassword(pin)
		if err != nil {
			return fmt.Errorf("hash pin: %w", err)
		}
		fmt.Println(hash)
	}
	if genSecret {
		secret, err := crypto.GenerateRandomString(32)
		if err != nil {
			return fmt.Errorf("generate secret: %w", err)
		}
		fmt.Println(secret)
	}
	return nil
}

func setupLogging(cfg config.LogConfig) {
	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (storage.Store, error) {
	if cfg.Driver == "memory" {
		log.Warn().Msg("Using in-memory tenant store, data is lost on restart")
		return storage.NewMemoryStore()
	}

	store, err := storage.NewPostgresStore(cfg.DSN, storage.PostgresOptions{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	log.Info().Msg("Connected to database")

	if cfg.MigrateOnStart {
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, err
		}
		log.Info().Msg("Database schema applied")
	}

	return store, nil
}

func connectNATS(cfg config.NATSConfig) (*nats.Conn, error) {
	return nats.Connect(cfg.URL,
		nats.Name(cfg.ClientID),
		nats.UserInfo(cfg.Username, cfg.Password),
		nats.ReconnectWait(cfg.ReconnectInterval),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn().Err(err).Msg("Disconnected from NATS")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Msg("Reconnected to NATS")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			log.Error().Err(err).Str("subject", subject).Msg("NATS error")
		}),
	)
}
