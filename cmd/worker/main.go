package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ton-giveaways/backend/internal/config"
	"github.com/ton-giveaways/backend/internal/db"
	"github.com/ton-giveaways/backend/internal/events"
	"github.com/ton-giveaways/backend/internal/logger"
	"github.com/ton-giveaways/backend/internal/metrics"
	"github.com/ton-giveaways/backend/internal/repositories"
	"github.com/ton-giveaways/backend/internal/settlement"
	"github.com/ton-giveaways/backend/internal/ton"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := logger.MustNew(cfg, "worker")
	defer log.Sync()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, cfg.DBMaxConns, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	var publisher events.Publisher = events.Nop{}
	if rdb != nil {
		defer rdb.Close()
		publisher = events.NewRedisPublisher(rdb, log)
	}

	api, err := ton.Connect(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to connect to TON", zap.Error(err))
	}
	client, err := ton.NewClient(api, cfg, log)
	if err != nil {
		log.Fatal("failed to init ledger client", zap.Error(err))
	}
	var sender settlement.Sender
	if client.CanSign() {
		sender = client
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewSettlement(reg)

	jobs := settlement.NewJobs(cfg, repositories.NewSettlementStore(pool), client, sender, publisher, m, log)

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	go func() {
		addr := fmt.Sprintf(":%s", cfg.WorkerPort)
		log.Info("starting worker http server", zap.String("addr", addr))
		if err := app.Listen(addr); err != nil {
			log.Error("worker http server error", zap.Error(err))
		}
	}()

	log.Info("worker started",
		zap.Duration("reconcile_every", cfg.ReconcileInterval),
		zap.Duration("draw_every", cfg.LotteryInterval),
		zap.Duration("payout_every", cfg.PayoutInterval),
		zap.Bool("payouts_enabled", sender != nil),
	)

	// Run jobs on tickers
	reconcileTicker := time.NewTicker(cfg.ReconcileInterval)
	lotteryTicker := time.NewTicker(cfg.LotteryInterval)
	payoutTicker := time.NewTicker(cfg.PayoutInterval)
	defer reconcileTicker.Stop()
	defer lotteryTicker.Stop()
	defer payoutTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-reconcileTicker.C:
			runJob(ctx, jobs, settlement.JobReconcile, log)
		case <-lotteryTicker.C:
			runJob(ctx, jobs, settlement.JobDraw, log)
		case <-payoutTicker.C:
			if sender != nil {
				runJob(ctx, jobs, settlement.JobPayout, log)
			}
		case <-sigCh:
			log.Info("shutting down worker")
			cancel()
			_ = app.Shutdown()
			return
		case <-ctx.Done():
			return
		}
	}
}

// runJob logs failures and keeps the scheduler alive; the next tick retries.
func runJob(ctx context.Context, jobs *settlement.Jobs, name string, log *zap.Logger) {
	if err := jobs.Run(ctx, name); err != nil {
		log.Error("job failed", zap.String("job", name), zap.Error(err))
	}
}
