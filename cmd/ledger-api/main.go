package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"example.com/sessionledger/internal/config"
	"example.com/sessionledger/internal/ledger"
	"example.com/sessionledger/internal/storage"
	"example.com/sessionledger/internal/storage/memory"
	spg "example.com/sessionledger/internal/storage/postgres"
	"example.com/sessionledger/internal/storage/sqlite"
	transport "example.com/sessionledger/internal/transport/http"
)

func main() {
	if err := run(); err != nil {
		slog.Error("ledger-api exited", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Parse()
	if err != nil {
		return err
	}
	level, _ := cfg.SlogLevel()
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)
	log.Info("config loaded", "port", cfg.Port, "storage", cfg.StorageDriver, "api_keys", len(cfg.APIKeys))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("close store", "err", err)
		}
	}()

	deps := &transport.ServerDeps{
		Cfg:    cfg,
		Ledger: ledger.New(store, ledger.WithLogger(log)),
		Log:    log,
		Now:    time.Now,
	}
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           deps.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg config.Config, log *slog.Logger) (storage.Store, error) {
	switch cfg.StorageDriver {
	case config.DriverPostgres:
		db, err := spg.Connect(ctx, cfg.PostgresDSN, spg.PoolOptions{
			MaxConns:       cfg.DBMaxConns,
			ConnectTimeout: cfg.DBConnectTimeout,
			ConnectRetries: cfg.DBConnectRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("migration: %w", err)
		}
		log.Info("db: connected and migrated", "driver", cfg.StorageDriver)
		return spg.NewStore(db), nil
	case config.DriverSQLite:
		st, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite open: %w", err)
		}
		log.Info("db: opened", "driver", cfg.StorageDriver, "path", cfg.SQLitePath)
		return st, nil
	default:
		log.Warn("using in-memory storage; data is lost on restart")
		return memory.New(), nil
	}
}
