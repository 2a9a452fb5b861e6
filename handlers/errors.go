package handlers

import (
	"errors"

	"quest-progress-engine/services"
	"quest-progress-engine/utils"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

var statusByError = []struct {
	err    error
	status int
}{
	{services.ErrInvalidXPReward, fiber.StatusBadRequest},
	{services.ErrInvalidPoints, fiber.StatusBadRequest},
	{services.ErrInvalidGoalTarget, fiber.StatusBadRequest},
	{services.ErrInvalidGoalType, fiber.StatusBadRequest},
	{services.ErrInvalidDateRange, fiber.StatusBadRequest},
	{services.ErrInvalidMaxCompletions, fiber.StatusBadRequest},
	{services.ErrUnknownVerificationType, fiber.StatusBadRequest},
	{services.ErrProofRequired, fiber.StatusBadRequest},
	{services.ErrInvalidDate, fiber.StatusBadRequest},
	{services.ErrTitleRequired, fiber.StatusBadRequest},

	{services.ErrForbidden, fiber.StatusForbidden},
	{services.ErrNotFound, fiber.StatusNotFound},
	{services.ErrNotParticipant, fiber.StatusNotFound},

	{services.ErrAlreadyCompleted, fiber.StatusConflict},
	{services.ErrAlreadyJoined, fiber.StatusConflict},
	{services.ErrNotCompleted, fiber.StatusConflict},
	{services.ErrParticipantInactive, fiber.StatusConflict},
	{services.ErrChallengeNotActive, fiber.StatusConflict},
	{services.ErrChallengeFull, fiber.StatusConflict},
	{services.ErrMaxCompletions, fiber.StatusConflict},
	{services.ErrVerificationPending, fiber.StatusConflict},
	{services.ErrInvalidTransition, fiber.StatusConflict},
	{services.ErrNotManualReview, fiber.StatusConflict},
}

// StatusFor maps an engine error to its HTTP status. Unknown errors are 500.
func StatusFor(err error) int {
	for _, m := range statusByError {
		if errors.Is(err, m.err) {
			return m.status
		}
	}
	return fiber.StatusInternalServerError
}

func respondError(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
	}
	status := StatusFor(err)
	if status >= fiber.StatusInternalServerError {
		utils.Logger.Error("request failed",
			zap.String("method", c.Method()), zap.String("path", c.Path()),
			zap.Bool("integrity", errors.Is(err, services.ErrIntegrity)), zap.Error(err))
		return c.Status(status).JSON(fiber.Map{"error": "internal error"})
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}
