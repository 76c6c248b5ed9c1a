// Package main runs the escrow API server.
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/go-petr/pet-escrow/cmd/httpserver"
	"github.com/go-petr/pet-escrow/internal/middleware"
	"github.com/go-petr/pet-escrow/pkg/configpkg"
	"github.com/go-petr/pet-escrow/pkg/dbpkg"

	_ "github.com/lib/pq"
)

const (
	redisConnectAttempts = 5
	shutdownTimeout      = 10 * time.Second
)

func connectRedis(ctx context.Context, addr string) (*redis.Client, error) {
	cache := redis.NewClient(&redis.Options{Addr: addr})

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), redisConnectAttempts), ctx)

	err := backoff.Retry(func() error {
		return cache.Ping(ctx).Err()
	}, b)
	if err != nil {
		_ = cache.Close()
		return nil, err
	}

	return cache, nil
}

func main() {
	config, err := configpkg.Load("./configs")
	if err != nil {
		log.Fatal().Err(err).Msg("cannot load config")
	}

	logger := middleware.CreateLogger(config)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var db *sql.DB

	if config.DBDriver != httpserver.DriverMemory {
		db, err = dbpkg.Setup(config.DBDriver, config.DBSource)
		if err != nil {
			logger.Fatal().Err(err).Msg("cannot connect to database")
		}
		defer db.Close()

		if err := dbpkg.Migrate(config.MigrationURL, config.DBSource); err != nil {
			logger.Fatal().Err(err).Msg("cannot run migrations")
		}
	}

	var cache *redis.Client

	if config.RedisAddress != "" {
		cache, err = connectRedis(ctx, config.RedisAddress)
		if err != nil {
			logger.Fatal().Err(err).Msg("cannot connect to redis")
		}
		defer cache.Close()
	} else {
		logger.Warn().Msg("REDIS_ADDRESS is empty, Idempotency-Key replay is disabled")
	}

	server, err := httpserver.New(db, cache, logger, config)
	if err != nil {
		logger.Fatal().Err(err).Msg("cannot create server")
	}

	srv := &http.Server{
		Addr:              config.ServerAddress,
		Handler:           server,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("address", config.ServerAddress).Str("driver", config.DBDriver).Msg("ESCROW API SERVER HAS STARTED")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("cannot start server")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
}
