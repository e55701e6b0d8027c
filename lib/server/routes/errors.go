package routes

import (
	"arena/lib/arena"
	"arena/lib/challenges"
	"arena/lib/duels"
	"arena/lib/snapshot"
	"context"
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
)

// StatusFor maps arena errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, challenges.ErrInvalidTarget),
		errors.Is(err, challenges.ErrInvalidSnapshot),
		errors.Is(err, duels.ErrInvalidAction),
		errors.Is(err, duels.ErrUnknownAbility),
		errors.Is(err, duels.ErrInsufficientEnergy),
		errors.Is(err, arena.ErrInvalidPlayer),
		errors.Is(err, arena.ErrUnknownEvent):
		return fiber.StatusBadRequest
	case errors.Is(err, challenges.ErrNotParticipant),
		errors.Is(err, duels.ErrNotParticipant):
		return fiber.StatusForbidden
	case errors.Is(err, challenges.ErrNotFound),
		errors.Is(err, duels.ErrNotFound),
		errors.Is(err, snapshot.ErrUnknownPlayer):
		return fiber.StatusNotFound
	case errors.Is(err, challenges.ErrAlreadyPending),
		errors.Is(err, challenges.ErrTargetOffline),
		errors.Is(err, arena.ErrNotOnline),
		errors.Is(err, duels.ErrTurnAlreadySubmitted):
		return fiber.StatusConflict
	case errors.Is(err, challenges.ErrChallengeClosed),
		errors.Is(err, duels.ErrSessionTerminal):
		return fiber.StatusGone
	case errors.Is(err, challenges.ErrCoordinatorClosed),
		errors.Is(err, duels.ErrManagerClosed):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusRequestTimeout
	}
	return fiber.StatusInternalServerError
}

// Fail writes err as a JSON error body.
func Fail(c *fiber.Ctx, err error) error {
	status := StatusFor(err)
	if status == fiber.StatusInternalServerError {
		slog.Error("Routes : request failed", "path", c.Path(), "error", err)
		return c.Status(status).JSON(fiber.Map{
			"error": "internal error",
		})
	}
	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
	})
}
