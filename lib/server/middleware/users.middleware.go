package middleware

import (
	"arena/lib"
	"errors"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrNoPlayer = errors.New("no authenticated player")

type PlayerContext struct {
	Player lib.PlayerRef
	IP     string
}

const PLAYER_CONTEXT_KEY = "player_context"

// extractBearerToken reads the Authorization header, falling back to the
// token query parameter for EventSource clients that cannot set headers.
func extractBearerToken(c *fiber.Ctx) (string, error) {
	auth_header := c.Get("Authorization")
	if auth_header == "" {
		if token := c.Query("token"); token != "" {
			return token, nil
		}
		return "", errors.New("Missing authorization header")
	}
	parts := strings.SplitN(auth_header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", errors.New("Invalid authorization header format")
	}
	return parts[1], nil
}

// ForAuthentificatedUser verifies the identity token issued by the account
// service and stores the player it names.
func ForAuthentificatedUser(jwt_key func() (string, error)) fiber.Handler {
	return func(c *fiber.Ctx) error {
		jwt_key, err := jwt_key()
		if err != nil {
			slog.Error("Middleware : cannot access jwt key", "error", err)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "cannot access jwt key",
			})
		}

		token_str, err := extractBearerToken(c)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(token_str, claims, func(token *jwt.Token) (interface{}, error) {
			return []byte(jwt_key), nil
		}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
		if err != nil || !token.Valid {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid token",
			})
		}

		user_id, _ := claims["user_id"].(string)
		handle, _ := claims["handle"].(string)
		if _, err := uuid.Parse(user_id); err != nil || strings.TrimSpace(handle) == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid token claims",
			})
		}

		c.Locals(PLAYER_CONTEXT_KEY, PlayerContext{
			Player: lib.PlayerRef{ID: lib.PlayerID(user_id), Handle: handle},
			IP:     c.IP(),
		})

		return c.Next()
	}
}

func GetPlayer(c *fiber.Ctx) (lib.PlayerRef, error) {
	player_ctx, ok := c.Locals(PLAYER_CONTEXT_KEY).(PlayerContext)
	if !ok {
		return lib.PlayerRef{}, ErrNoPlayer
	}
	return player_ctx.Player, nil
}
