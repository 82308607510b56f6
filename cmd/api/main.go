package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/ton-giveaways/backend/internal/config"
	"github.com/ton-giveaways/backend/internal/db"
	"github.com/ton-giveaways/backend/internal/events"
	apphttp "github.com/ton-giveaways/backend/internal/http"
	"github.com/ton-giveaways/backend/internal/http/handlers"
	"github.com/ton-giveaways/backend/internal/logger"
	"github.com/ton-giveaways/backend/internal/repositories"
	"github.com/ton-giveaways/backend/internal/services"
	"github.com/ton-giveaways/backend/internal/ton"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := logger.MustNew(cfg, "api")
	defer log.Sync()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, cfg.DBMaxConns, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Run migrations
	if err := db.RunMigrations(ctx, pool, cfg.MigrationsDir, log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	var subscriber events.Subscriber
	if rdb != nil {
		defer rdb.Close()
		subscriber = events.NewRedisSubscriber(rdb, log)
	}

	// Top-up links need the operator address; without it they are left empty
	operator, err := ton.OperatorAddress(cfg)
	if err != nil {
		log.Warn("operator address unavailable, top-up links disabled", zap.Error(err))
	}

	giveawayService := services.NewGiveawayService(repositories.NewGiveawayRepo(pool), operator, cfg, log)

	giveawayHandler := handlers.NewGiveawayHandler(giveawayService, log)
	wsHub := handlers.NewWSHub(subscriber, log)
	wsHub.Start(ctx)

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var e *fiber.Error
			if errors.As(err, &e) {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, giveawayHandler, wsHub)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
