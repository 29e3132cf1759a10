package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/carlmjohnson/versioninfo"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/congo-pay/custody-gateway/internal/chain"
	"github.com/congo-pay/custody-gateway/internal/config"
	"github.com/congo-pay/custody-gateway/internal/infra"
	"github.com/congo-pay/custody-gateway/internal/keyvault"
	"github.com/congo-pay/custody-gateway/internal/ledger"
	"github.com/congo-pay/custody-gateway/internal/lock"
	"github.com/congo-pay/custody-gateway/internal/logging"
	"github.com/congo-pay/custody-gateway/internal/monitor"
	"github.com/congo-pay/custody-gateway/internal/notification"
	"github.com/congo-pay/custody-gateway/internal/routes"
	"github.com/congo-pay/custody-gateway/internal/server"
)

var (
	version = "0.0.1-src"
	commit  = versioninfo.Short()
)

func main() {
	// A missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL, cfg.AppName)
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if cfg.MigrateOnStart {
		if err := infra.Migrate(db); err != nil {
			logger.Error("migrate database", "error", err)
			os.Exit(1)
		}
		logger.Info("database schema is current")
	}

	cache, err := infra.NewRedisClient(ctx, cfg.RedisURL, cfg.AppName)
	if err != nil {
		logger.Error("connect redis", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := cache.Close(); err != nil {
			logger.Warn("close redis", "error", err)
		}
	}()

	networks, err := config.LoadNetworks(cfg.NetworksFile)
	if err != nil {
		logger.Error("load networks", "error", err)
		os.Exit(1)
	}
	factory, err := cfg.ChainFactory(networks)
	if err != nil {
		logger.Error("select chain client", "error", err)
		os.Exit(1)
	}
	chains, err := chain.NewRegistry(networks, factory)
	if err != nil {
		logger.Error("build chain registry", "error", err)
		os.Exit(1)
	}

	vault, err := keyvault.New(cfg.WalletMasterKey)
	if err != nil {
		logger.Error("open key vault", "error", err)
		os.Exit(1)
	}

	store := ledger.NewPostgresStore(db)
	led := ledger.New(store, chains, vault, lock.NewRedisLocker(cache), logger, ledger.Options{
		CallTimeout: cfg.ChainCallTimeout,
		SendLockTTL: cfg.SendLockTTL,
	})
	notifier := notification.NewLoggerNotifier(logger)

	mon := monitor.New(store, chains, notifier, logger, monitor.Config{
		Interval:    cfg.MonitorInterval,
		Concurrency: cfg.MonitorConcurrency,
		Dust:        cfg.DustThreshold,
		CallTimeout: cfg.ChainCallTimeout,
	})

	srv, err := server.New(routes.Deps{
		Cfg:      cfg,
		DB:       db,
		Cache:    cache,
		Logger:   logger,
		Store:    store,
		Ledger:   led,
		Chains:   chains,
		Vault:    vault,
		Notifier: notifier,
		Monitor:  mon,
	})
	if err != nil {
		logger.Error("build server", "error", err)
		os.Exit(1)
	}

	logger.Info("custody gateway launched",
		"version", version,
		"commit", commit,
		"addr", cfg.Address(),
		"networks", len(chains.Networks()),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Listen()
	})

	g.Go(func() error {
		err := mon.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
		defer cancel()
		mon.Stop()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server exit", "error", err)
		os.Exit(1)
	}
	logger.Info("server exited cleanly")
}
