package handlers

import (
	"context"
	"mime/multipart"

	"quest-progress-engine/middleware"
	"quest-progress-engine/services"

	"github.com/gofiber/fiber/v2"
)

// ProofStore keeps uploaded proof images. utils.R2ProofStore satisfies it.
type ProofStore interface {
	UploadsEnabled() bool
	Upload(ctx context.Context, fileHeader *multipart.FileHeader, key string) (string, error)
}

// SetupRoutes registers the health probe and every user-facing route.
// The gateway forwards /api/v1/quest/s/... to these paths.
func SetupRoutes(app *fiber.App, engine *services.Engine, proofs ProofStore) {
	app.Get("/health", func(c *fiber.Ctx) error {
		sqlDB, err := engine.DB.DB()
		if err == nil {
			err = sqlDB.PingContext(c.UserContext())
		}
		if err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded", "error": err.Error()})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	secured := app.Group("/", middleware.UserContextMiddleware())
	setupProgressionRoutes(secured, engine)
	setupChallengeRoutes(secured, engine, proofs)
}
