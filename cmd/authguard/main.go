// Command authguard serves the authentication engine over HTTP.
//
// Configuration comes from the environment, optionally seeded from a .env
// file. AUTHGUARD_MASTER_SECRET is required; everything else has a default
// suitable for local development (SQLite file, local Redis).
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authguard"
	"github.com/MrEthical07/authguard/notify"
	"github.com/MrEthical07/authguard/notify/amqpnotify"
	"github.com/MrEthical07/authguard/store/sqlstore"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	if err := run(logger); err != nil {
		logger.Error("authguard stopped", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	if err := loadEnv(); err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return err
	}
	rdb := redis.NewClient(opts)
	defer rdb.Close()
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	err = rdb.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		return err
	}

	store, err := sqlstore.Open(ctx, cfg.Dialect, cfg.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	var notifier notify.Notifier = notify.Log{Logger: logger}
	if cfg.AMQPURL != "" {
		pub, err := amqpnotify.Dial(cfg.AMQPURL, cfg.AMQPQueue)
		if err != nil {
			return err
		}
		defer pub.Close()
		notifier = pub
	}

	engine, err := authguard.New().
		WithConfig(cfg.Engine).
		WithRedis(rdb).
		WithStore(store).
		WithNotifier(notifier).
		WithLogger(logger).
		WithOAuthProviders(cfg.providers()...).
		Build()
	if err != nil {
		return err
	}
	defer engine.Close()
	engine.StartMaintenance(ctx)

	e := newServer(engine, cfg.AdminToken)
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Addr, "dialect", cfg.Dialect.String())
		errCh <- e.Start(cfg.Addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		return shutdown(e, 10*time.Second)
	}
}
