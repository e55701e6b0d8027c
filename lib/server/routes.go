package server

import (
	"arena/lib/maintenance"
	"arena/lib/server/middleware"
	"arena/lib/server/routes"

	"github.com/gofiber/fiber/v2"
)

func (server *ArenaServer) RegisterRoutes() {
	server.App.Get("/health", server.healthHandler)

	server.RegisterArenaRoutes()
	server.RegisterDuelRoutes()
	server.RegisterNotificationRoutes()
	server.RegisterInternalRoutes()
}

func (server *ArenaServer) healthHandler(c *fiber.Ctx) error {
	state := server.StateMachine.Get()
	resp := fiber.Map{
		"state": state.String(),
		"cache": server.Cache.Health(),
		"db":    server.Store != nil && server.Store.Health(c.Context()),
	}
	if state != maintenance.STATE_SERVING {
		return c.Status(fiber.StatusServiceUnavailable).JSON(resp)
	}
	return c.JSON(resp)
}

func (server *ArenaServer) RegisterInternalRoutes() {
	internal_group := server.App.Group("/internal")
	internal_group.Use(middleware.WithKey("X-Api-Key", server.apiKey))

	internal_group.Get("/stats",
		middleware.OnState(maintenance.STATE_SERVING, maintenance.STATE_DRAINING),
		func(c *fiber.Ctx) error {
			online, err := server.Cache.CountOnline(c.Context())
			if err != nil {
				online = -1
			}
			return routes.InternalStatsHandler(c, server.Arena, fiber.Map{
				"online_all_instances": online,
				"settlement":           server.Settlement.Stats(),
				"notifications":        server.Notifications.Stats(),
				"inbound":              server.Supervisor.Stats(),
			})
		},
	)
}
