package middleware

import (
	"arena/lib/maintenance"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "test-key"

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testKey))
	require.NoError(t, err)
	return token
}

func newPlayerApp() *fiber.App {
	app := fiber.New()
	app.Use(ForAuthentificatedUser(func() (string, error) { return testKey, nil }))
	app.Get("/me", func(c *fiber.Ctx) error {
		player, err := GetPlayer(c)
		if err != nil {
			return c.SendStatus(fiber.StatusInternalServerError)
		}
		return c.SendString(string(player.ID) + ":" + player.Handle)
	})
	return app
}

func TestForAuthentificatedUser(t *testing.T) {
	t.Parallel()

	app := newPlayerApp()
	valid := signToken(t, jwt.MapClaims{
		"user_id": "8c6f1f5e-3f0b-4b8e-9b7e-2b7c1d7f0a11",
		"handle":  "alice",
		"exp":     time.Now().Add(time.Hour).Unix(),
	})

	tests := []struct {
		name   string
		header string
		query  string
		status int
	}{
		{"header", "Bearer " + valid, "", fiber.StatusOK},
		{"query", "", valid, fiber.StatusOK},
		{"missing", "", "", fiber.StatusUnauthorized},
		{"malformed", "Token " + valid, "", fiber.StatusUnauthorized},
		{"bad signature", "Bearer " + valid + "x", "", fiber.StatusUnauthorized},
		{"expired", "Bearer " + signToken(t, jwt.MapClaims{
			"user_id": "8c6f1f5e-3f0b-4b8e-9b7e-2b7c1d7f0a11",
			"handle":  "alice",
			"exp":     time.Now().Add(-time.Hour).Unix(),
		}), "", fiber.StatusUnauthorized},
		{"no handle", "Bearer " + signToken(t, jwt.MapClaims{
			"user_id": "8c6f1f5e-3f0b-4b8e-9b7e-2b7c1d7f0a11",
		}), "", fiber.StatusUnauthorized},
		{"bad id", "Bearer " + signToken(t, jwt.MapClaims{
			"user_id": "nope",
			"handle":  "alice",
		}), "", fiber.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/me"
			if tt.query != "" {
				target += "?token=" + tt.query
			}
			req := httptest.NewRequest("GET", target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestWithKey(t *testing.T) {
	t.Parallel()

	app := fiber.New()
	app.Use(WithKey("X-Api-Key", func() (string, error) { return "internal", nil }))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Api-Key", "internal")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Api-Key", "guess")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestOnState(t *testing.T) {
	t.Parallel()

	machine := maintenance.NewStateMachine()
	app := fiber.New()
	app.Use(WithStateMachine(machine))
	app.Get("/", OnState(maintenance.STATE_SERVING), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)

	require.NoError(t, machine.To(maintenance.STATE_CONNECTING))
	require.NoError(t, machine.To(maintenance.STATE_SERVING))

	resp, err = app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
}
