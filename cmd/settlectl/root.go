package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/ton-giveaways/backend/internal/config"
	"github.com/ton-giveaways/backend/internal/db"
	"github.com/ton-giveaways/backend/internal/logger"
	"go.uber.org/zap"
)

var (
	logLevel string

	rootCmd = &cobra.Command{
		Use:          "settlectl",
		Short:        "Run giveaway settlement jobs and maintenance tasks once",
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL")
}

// env is what every subcommand needs: configuration, a logger and the store pool.
type env struct {
	cfg  *config.Config
	log  *zap.Logger
	pool *pgxpool.Pool
}

func setup(ctx context.Context, service string) (*env, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	log, err := logger.New(cfg, service)
	if err != nil {
		return nil, nil, err
	}
	cfg.Validate(log)

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, cfg.DBMaxConns, log)
	if err != nil {
		_ = log.Sync()
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}

	cleanup := func() {
		pool.Close()
		_ = log.Sync()
	}
	return &env{cfg: cfg, log: log, pool: pool}, cleanup, nil
}
