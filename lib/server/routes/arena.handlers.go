package routes

import (
	"arena/lib"
	"arena/lib/arena"
	"arena/lib/server/middleware"

	"github.com/gofiber/fiber/v2"
)

// OnlinePlayersHandler lists the challengeable players, without the caller.
func OnlinePlayersHandler(c *fiber.Ctx, a *arena.Arena) error {
	player, err := middleware.GetPlayer(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "unknown player",
		})
	}
	online := a.Online(player.ID)
	if online == nil {
		online = []lib.PlayerRef{}
	}
	return c.JSON(fiber.Map{
		"players": online,
		"count":   len(online),
	})
}

func InternalStatsHandler(c *fiber.Ctx, a *arena.Arena, extra fiber.Map) error {
	response := fiber.Map{
		"arena": a.Stats(),
	}
	for key, value := range extra {
		response[key] = value
	}
	return c.JSON(response)
}
