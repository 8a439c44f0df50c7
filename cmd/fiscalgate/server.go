package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/osouza/fiscalgate/internal/auth"
	"github.com/osouza/fiscalgate/internal/batch"
	"github.com/osouza/fiscalgate/internal/cache"
	"github.com/osouza/fiscalgate/internal/config"
	"github.com/osouza/fiscalgate/internal/db"
	"github.com/osouza/fiscalgate/internal/logging"
	"github.com/osouza/fiscalgate/internal/ratelimit"
	"github.com/osouza/fiscalgate/internal/server"
	"github.com/osouza/fiscalgate/internal/status"
	"github.com/osouza/fiscalgate/internal/token"
	"github.com/osouza/fiscalgate/internal/upstream"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

var serverFlags struct {
	port        int
	dbPath      string
	redisAddr   string
	apiKey      string
	upstreamRPS int
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the gateway HTTP server",
	Long: `Start the fiscalgate gateway.

Shared state (credentials, rate counters, status cache) lives in Redis
when --redis-addr is set; otherwise an in-process store is used, which
is only suitable for a single instance.

Upstream connection settings come from the environment:
  FISCALGATE_UPSTREAM_URL, FISCALGATE_AUTH_URL, FISCALGATE_CLIENT_ID,
  FISCALGATE_CLIENT_SECRET, FISCALGATE_AUDIENCE.`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.Flags().IntVar(&serverFlags.port, "port", getEnvInt("FISCALGATE_HTTP_PORT", 8080), "HTTP port to listen on")
	serverCmd.Flags().StringVar(&serverFlags.dbPath, "db", getEnv("FISCALGATE_DB", "fiscalgate.db"), "upload log database path (empty disables the log)")
	serverCmd.Flags().StringVar(&serverFlags.redisAddr, "redis-addr", getEnv("FISCALGATE_REDIS_ADDR", ""), "redis address for the shared cache")
	serverCmd.Flags().StringVar(&serverFlags.apiKey, "api-key", os.Getenv("FISCALGATE_API_KEY"), "API key to provision at startup")
	serverCmd.Flags().IntVar(&serverFlags.upstreamRPS, "upstream-rps", getEnvInt("FISCALGATE_UPSTREAM_RPS", 0), "outgoing calls per second to the upstream, 0 disables throttling")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	cfg.HTTPPort = serverFlags.port
	cfg.DBPath = serverFlags.dbPath
	if serverFlags.redisAddr != "" {
		cfg.RedisAddr = serverFlags.redisAddr
	}

	ctx := context.Background()

	var store cache.Store
	if cfg.RedisAddr != "" {
		redisStore, err := cache.Dial(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisStore.Close()
		store = redisStore
		logger.Info("using redis cache", logging.Addr(cfg.RedisAddr))
	} else {
		store = cache.NewMemory()
		logger.Warn("using in-process cache, state will not survive restarts or be shared across instances")
	}

	upstreamClient := upstream.New(cfg.UpstreamBaseURL, logger.Named("upstream"))
	if serverFlags.upstreamRPS > 0 {
		upstreamClient.Throttle = rate.NewLimiter(rate.Limit(serverFlags.upstreamRPS), serverFlags.upstreamRPS)
	}
	authClient := upstream.New(cfg.AuthBaseURL, logger.Named("auth"))

	mgr := auth.NewManager(store, authClient)
	mgr.ClientID = cfg.ClientID
	mgr.ClientSecret = cfg.ClientSecret
	mgr.Audience = cfg.Audience
	mgr.RetainStateOnFailure = cfg.RetainStateOnFailure
	mgr.Logger = logger.Named("auth")

	apiKey := serverFlags.apiKey
	if apiKey == "" {
		apiKey, err = token.GenerateKey()
		if err != nil {
			return fmt.Errorf("generate API key: %w", err)
		}
		fmt.Println("=============================================================")
		fmt.Println("API KEY CREATED (save this, it will not be shown again):")
		fmt.Println(apiKey)
		fmt.Println("=============================================================")
	}
	if err := mgr.ProvisionAPIKey(ctx, apiKey, "default", nil, 0); err != nil {
		return fmt.Errorf("provision API key: %w", err)
	}

	srv := &server.APIServer{
		Store:    store,
		Auth:     mgr,
		Upstream: upstreamClient,
		Batch:    &batch.Processor{Client: upstreamClient, Logger: logger.Named("batch")},
		Status:   &status.Tracker{Store: store, Client: upstreamClient, Logger: logger.Named("status")},
		Limiter:  &ratelimit.Limiter{Store: store, Logger: logger.Named("ratelimit")},
		Config:   *cfg,
		Logger:   logger.Named("api"),
	}

	if cfg.DBPath != "" {
		database, err := db.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer database.Close()
		srv.DB = database
		srv.Status.Log = &db.UploadLog{DB: database}
	}

	managed := server.NewManagedServer("api", server.DefaultServerConfig(
		fmt.Sprintf(":%d", cfg.HTTPPort), srv.Handler(), logger.Named("api")))

	logger.Info("starting server", logging.Port(cfg.HTTPPort), logging.Endpoint(cfg.UpstreamBaseURL))
	managed.Start()
	if err := managed.WaitForStartup(500 * time.Millisecond); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	managed.Shutdown(shutdownCtx)

	return nil
}
