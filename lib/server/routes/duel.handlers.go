package routes

import (
	"arena/lib"
	"arena/lib/arena"
	"arena/lib/challenges"
	"arena/lib/duels"
	"arena/lib/server/middleware"
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
)

const (
	DEFAULT_AWAIT_TIMEOUT = 25 * time.Second
	MAX_AWAIT_TIMEOUT     = 60 * time.Second
)

type ChallengeData struct {
	OpponentID     string `json:"opponent_id"`
	OpponentHandle string `json:"opponent_handle"`
	TTLSeconds     int    `json:"ttl_seconds"`
}

func ChallengeHandler(data ChallengeData, c *fiber.Ctx, a *arena.Arena) error {
	player, err := middleware.GetPlayer(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "unknown player",
		})
	}
	if data.TTLSeconds < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "ttl_seconds cannot be negative",
		})
	}

	target := arena.Target{ID: lib.PlayerID(data.OpponentID), Handle: data.OpponentHandle}
	challenge, err := a.Challenge(c.UserContext(), player.ID, target, arena.TTLFromSeconds(data.TTLSeconds))
	if err != nil {
		return Fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(challenge)
}

func GetChallengeHandler(c *fiber.Ctx, a *arena.Arena) error {
	player, err := middleware.GetPlayer(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "unknown player",
		})
	}
	challenge, err := a.GetChallenge(player.ID, c.Params("id"))
	if err != nil {
		return Fail(c, err)
	}
	return c.JSON(challenge)
}

// AwaitChallengeHandler long-polls until the challenge is decided. A timeout
// answers 202 with the still pending challenge.
func AwaitChallengeHandler(c *fiber.Ctx, a *arena.Arena) error {
	player, err := middleware.GetPlayer(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "unknown player",
		})
	}
	timeout := DEFAULT_AWAIT_TIMEOUT
	if seconds := c.QueryInt("timeout", 0); seconds > 0 {
		timeout = time.Duration(min(seconds, int(MAX_AWAIT_TIMEOUT/time.Second))) * time.Second
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), timeout)
	defer cancel()

	challenge, err := a.AwaitChallenge(ctx, player.ID, c.Params("id"))
	if errors.Is(err, context.DeadlineExceeded) {
		challenge, err = a.GetChallenge(player.ID, c.Params("id"))
		if err != nil {
			return Fail(c, err)
		}
		return c.Status(fiber.StatusAccepted).JSON(challenge)
	} else if err != nil {
		return Fail(c, err)
	}
	return c.JSON(challenge)
}

func PendingChallengesHandler(c *fiber.Ctx, a *arena.Arena) error {
	player, err := middleware.GetPlayer(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "unknown player",
		})
	}
	pending := a.PendingFor(player.ID)
	if pending == nil {
		pending = []challenges.Challenge{}
	}
	return c.JSON(pending)
}

type ChallengeResponseData struct {
	Accept bool `json:"accept"`
}

func ChallengeResponseHandler(data ChallengeResponseData, c *fiber.Ctx, a *arena.Arena) error {
	player, err := middleware.GetPlayer(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "unknown player",
		})
	}
	challenge, err := a.Respond(c.UserContext(), player.ID, c.Params("id"), data.Accept)
	if err != nil {
		return Fail(c, err)
	}
	return c.JSON(challenge)
}

func WithdrawChallengeHandler(c *fiber.Ctx, a *arena.Arena) error {
	player, err := middleware.GetPlayer(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "unknown player",
		})
	}
	challenge, err := a.Withdraw(c.UserContext(), player.ID, c.Params("id"))
	if err != nil {
		return Fail(c, err)
	}
	return c.JSON(challenge)
}

func GetSessionHandler(c *fiber.Ctx, a *arena.Arena) error {
	player, err := middleware.GetPlayer(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "unknown player",
		})
	}
	session, err := a.Session(c.UserContext(), player.ID, c.Params("id"))
	if err != nil {
		return Fail(c, err)
	}
	return c.JSON(session)
}

func ActiveSessionsHandler(c *fiber.Ctx, a *arena.Arena) error {
	player, err := middleware.GetPlayer(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "unknown player",
		})
	}
	sessions := a.ActiveFor(player.ID)
	if sessions == nil {
		sessions = []duels.Session{}
	}
	return c.JSON(sessions)
}

type ActionData struct {
	Kind         string `json:"kind"`
	Ability      string `json:"ability"`
	DeclaredCost int    `json:"declared_cost"`
}

func ActionHandler(data ActionData, c *fiber.Ctx, a *arena.Arena) error {
	player, err := middleware.GetPlayer(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "unknown player",
		})
	}
	result, err := a.Act(c.UserContext(), player.ID, c.Params("id"), duels.Action{
		Kind:         duels.ActionKind(data.Kind),
		Ability:      data.Ability,
		DeclaredCost: data.DeclaredCost,
	})
	if err != nil {
		return Fail(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(result)
}

func ForfeitHandler(c *fiber.Ctx, a *arena.Arena) error {
	player, err := middleware.GetPlayer(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "unknown player",
		})
	}
	session, err := a.Forfeit(c.UserContext(), player.ID, c.Params("id"))
	if err != nil {
		return Fail(c, err)
	}
	return c.JSON(session)
}
