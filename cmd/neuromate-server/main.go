package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"neuromate-client/internal/config"
	"neuromate-client/internal/db"
	"neuromate-client/internal/logger"
	"neuromate-client/internal/scoring"
	"neuromate-client/internal/screening"
	"neuromate-client/internal/server"
	"neuromate-client/internal/store"
)

func main() {
	cfg := config.Load()
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to open session store", "store", cfg.Store, "error", err)
	}
	defer closeStore()

	script, err := screening.ResolveScript(cfg.ScriptPath, cfg.NoPacing)
	if err != nil {
		log.Fatal("failed to load script", "path", cfg.ScriptPath, "error", err)
	}

	scorer := scoring.NewClient(scoring.Options{
		BaseURL: cfg.ScoringURL,
		Token:   cfg.ScoringToken,
		Timeout: cfg.ScoringTimeout,
	}, log)
	s := server.NewServer(cfg, st, screening.Deps{Scorer: scorer, Script: script}, log)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("neuromate server listening", "addr", srv.Addr, "store", cfg.Store, "scoring_url", cfg.ScoringURL)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("server stopped", "error", err)
	}
}

func openStore(ctx context.Context, cfg config.Config, log *logger.Logger) (store.Store, func(), error) {
	switch cfg.Store {
	case "", "memory":
		return store.NewMemoryStore(), func() {}, nil

	case "file":
		return store.NewFileStore(cfg.StoreFile), func() {}, nil

	case "postgres":
		database, err := db.New(ctx, cfg.DatabaseURL, log)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		if err := database.Migrate(ctx); err != nil {
			database.Close()
			return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("database migrations completed")
		return store.NewDatabaseStore(database), func() { database.Close() }, nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.RedisAddr, err)
		}
		return store.NewRedisStore(client, cfg.RedisTTL), func() { _ = client.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}
