package server

import (
	m "arena/lib/maintenance"
	"arena/lib/notifications"
	"arena/lib/server/middleware"

	"github.com/gofiber/fiber/v2"
)

func (server *ArenaServer) RegisterNotificationRoutes() {
	notification_group := server.App.Group("/notify")
	notification_group.Use(middleware.ForAuthentificatedUser(server.jwtKey))
	notification_group.Use(middleware.OnState(m.STATE_SERVING))

	notification_group.Get("/refresh",
		func(c *fiber.Ctx) error {
			return server.Notifications.RefreshHandler(c)
		},
	)

	notification_group.Post("/close",
		func(c *fiber.Ctx) error {
			return server.Notifications.CloseConnection(c)
		},
	)

	notification_group.Get("/session",
		func(c *fiber.Ctx) error {
			return server.Notifications.SSENotificationHandler(c)
		},
	)

	notification_group.Get("/ping",
		func(c *fiber.Ctx) error {
			player, err := middleware.GetPlayer(c)
			if err != nil {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "unknown player",
				})
			}

			err = server.Notifications.Send(
				c.UserContext(),
				notifications.TypePing,
				notifications.PriorityLow,
				player.ID,
				fiber.Map{"ping": "pong"},
			)
			if err != nil {
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
					"error": "notifications unavailable",
				})
			}
			return c.SendStatus(fiber.StatusAccepted)
		},
	)
}
