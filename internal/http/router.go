package http

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"github.com/ton-giveaways/backend/internal/config"
	"github.com/ton-giveaways/backend/internal/http/handlers"
	"github.com/ton-giveaways/backend/internal/middleware"
	"go.uber.org/zap"
)

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	giveawayHandler *handlers.GiveawayHandler,
	wsHub *handlers.WSHub,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1", middleware.RateLimitMiddleware(rdb, 100, time.Minute))

	api.Post("/giveaways", giveawayHandler.CreateGiveaway)
	api.Get("/giveaways/:id", giveawayHandler.GetGiveaway)
	api.Post("/giveaways/:id/complete-task", giveawayHandler.CompleteTask)

	// Participants authenticate with the wallet-address token
	protected := api.Group("", middleware.AuthMiddleware(cfg, log))
	protected.Post("/giveaways/:id/checkin", giveawayHandler.CheckIn)
	protected.Get("/giveaways/:id/checkin", giveawayHandler.GetCheckin)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(wsHub.HandleWS))
}
