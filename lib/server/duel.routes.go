package server

import (
	m "arena/lib/maintenance"
	"arena/lib/server/middleware"
	"arena/lib/server/routes"

	"github.com/gofiber/fiber/v2"
)

func (server *ArenaServer) RegisterDuelRoutes() {
	duel_group := server.App.Group("/duel")
	duel_group.Use(middleware.ForAuthentificatedUser(server.jwtKey))
	duel_group.Use(middleware.OnState(m.STATE_SERVING))

	challenge_group := duel_group.Group("/challenge")
	challenge_group.Post("/",
		func(c *fiber.Ctx) error {
			var data routes.ChallengeData
			if err := c.BodyParser(&data); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "invalid request body",
				})
			}
			return routes.ChallengeHandler(data, c, server.Arena)
		},
	)
	challenge_group.Get("/pending",
		func(c *fiber.Ctx) error {
			return routes.PendingChallengesHandler(c, server.Arena)
		},
	)
	challenge_group.Get("/:id",
		func(c *fiber.Ctx) error {
			return routes.GetChallengeHandler(c, server.Arena)
		},
	)
	challenge_group.Get("/:id/await",
		func(c *fiber.Ctx) error {
			return routes.AwaitChallengeHandler(c, server.Arena)
		},
	)
	challenge_group.Post("/:id/response",
		func(c *fiber.Ctx) error {
			var data routes.ChallengeResponseData
			if err := c.BodyParser(&data); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "invalid request body",
				})
			}
			return routes.ChallengeResponseHandler(data, c, server.Arena)
		},
	)
	challenge_group.Delete("/:id",
		func(c *fiber.Ctx) error {
			return routes.WithdrawChallengeHandler(c, server.Arena)
		},
	)

	session_group := duel_group.Group("/session")
	session_group.Get("/",
		func(c *fiber.Ctx) error {
			return routes.ActiveSessionsHandler(c, server.Arena)
		},
	)
	session_group.Get("/:id",
		func(c *fiber.Ctx) error {
			return routes.GetSessionHandler(c, server.Arena)
		},
	)
	session_group.Post("/:id/action",
		func(c *fiber.Ctx) error {
			var data routes.ActionData
			if err := c.BodyParser(&data); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "invalid request body",
				})
			}
			return routes.ActionHandler(data, c, server.Arena)
		},
	)
	session_group.Post("/:id/forfeit",
		func(c *fiber.Ctx) error {
			return routes.ForfeitHandler(c, server.Arena)
		},
	)
}
