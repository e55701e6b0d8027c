package middleware

import (
	"arena/lib/maintenance"

	"github.com/gofiber/fiber/v2"
)

const STATE_MACHINE_KEY = "StateMachine"

// OnState rejects requests unless the server is in one of the given states.
func OnState(allowed ...maintenance.State) fiber.Handler {
	return func(c *fiber.Ctx) error {
		state_machine, ok := c.Locals(STATE_MACHINE_KEY).(*maintenance.StateMachine)
		if !ok || !state_machine.Is(allowed...) {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "Server not ready",
			})
		}
		return c.Next()
	}
}

// WithStateMachine exposes the lifecycle state to later handlers.
func WithStateMachine(state_machine *maintenance.StateMachine) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals(STATE_MACHINE_KEY, state_machine)
		return c.Next()
	}
}
