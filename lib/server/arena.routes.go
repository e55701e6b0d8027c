package server

import (
	m "arena/lib/maintenance"
	"arena/lib/server/middleware"
	"arena/lib/server/routes"

	"github.com/gofiber/fiber/v2"
)

func (server *ArenaServer) RegisterArenaRoutes() {
	arena_group := server.App.Group("/arena")
	arena_group.Use(middleware.ForAuthentificatedUser(server.jwtKey))

	arena_group.Get("/online",
		middleware.OnState(m.STATE_SERVING),
		func(c *fiber.Ctx) error {
			return routes.OnlinePlayersHandler(c, server.Arena)
		},
	)
}
