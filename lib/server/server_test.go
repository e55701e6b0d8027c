package server

import (
	"arena/lib"
	"arena/lib/challenges"
	"arena/lib/config"
	"arena/lib/duels"
	"arena/lib/maintenance"
	"arena/lib/players"
	"arena/lib/services"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testJwtKey = "jwt-test-key"
	testApiKey = "api-test-key"
)

var (
	alice = lib.PlayerRef{ID: "11111111-1111-4111-8111-111111111111", Handle: "alice"}
	bob   = lib.PlayerRef{ID: "22222222-2222-4222-8222-222222222222", Handle: "bob"}
)

func testConfig() config.Config {
	return config.Config{
		Port:                8080,
		LogLevel:            "info",
		DbDriver:            "sqlite",
		SqlitePath:          ":memory:",
		JwtKey:              testJwtKey,
		ApiKey:              testApiKey,
		ChallengeTTL:        30 * time.Second,
		ChallengeMaxTTL:     time.Minute,
		TurnGrace:           15 * time.Second,
		IdleTimeout:         2 * time.Minute,
		MaxMissedTurns:      3,
		Resolution:          "sequential",
		RewardVariant:       "rich",
		SettlementWorkers:   1,
		InboundWorkers:      1,
		NotificationWorkers: 1,
		CorsOrigins:         []string{"*"},
	}
}

func newTestServer(t *testing.T) *ArenaServer {
	t.Helper()
	ctx := context.Background()

	redis_server := miniredis.RunT(t)
	cache := services.NewCache(redis.NewClient(&redis.Options{Addr: redis_server.Addr()}))

	store, err := players.OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	for _, player := range []lib.PlayerRef{alice, bob} {
		require.NoError(t, store.UpsertPlayer(ctx, players.Attributes{
			ID: player.ID, Handle: player.Handle,
			HP: 100, MaxHP: 100, Energy: 50, MaxEnergy: 50,
			AttackPower: 10, Level: 2, Gold: 100,
		}))
	}

	server := New(testConfig())
	server.Secrets = server.Config.Secrets()
	server.Configure()
	server.RegisterRoutes()
	require.NoError(t, server.Wire(ctx, cache, store))
	require.NoError(t, server.StateMachine.To(maintenance.STATE_CONNECTING))
	require.NoError(t, server.StateMachine.To(maintenance.STATE_SERVING))

	t.Cleanup(func() {
		shutdown_ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdown_ctx)
	})
	return server
}

func tokenFor(t *testing.T, player lib.PlayerRef) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": string(player.ID),
		"handle":  player.Handle,
		"exp":     time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testJwtKey))
	require.NoError(t, err)
	return token
}

func call(t *testing.T, server *ArenaServer, player *lib.PlayerRef, method, target string, body any) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	if player != nil {
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, *player))
	}
	resp, err := server.App.Test(req, 5000)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func TestHealth(t *testing.T) {
	t.Parallel()

	server := newTestServer(t)
	status, body := call(t, server, nil, http.MethodGet, "/health", nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.JSONEq(t, `{"state":"SERVING","cache":true,"db":true}`, string(body))
}

func TestRoutesRequireIdentity(t *testing.T) {
	t.Parallel()

	server := newTestServer(t)
	status, _ := call(t, server, nil, http.MethodGet, "/arena/online", nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, _ = call(t, server, nil, http.MethodGet, "/internal/stats", nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)
}

func TestDuelOverHTTP(t *testing.T) {
	t.Parallel()

	server := newTestServer(t)
	ctx := context.Background()

	status, _ := call(t, server, &alice, http.MethodPost, "/duel/challenge", fiber.Map{"opponent_handle": "bob"})
	assert.Equal(t, fiber.StatusConflict, status, "challenger must hold a notification session")

	require.NoError(t, server.Arena.Connect(ctx, alice))
	require.NoError(t, server.Arena.Connect(ctx, bob))

	status, body := call(t, server, &alice, http.MethodGet, "/arena/online", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, string(body), `"count":1`)

	status, body = call(t, server, &alice, http.MethodPost, "/duel/challenge", fiber.Map{"opponent_handle": "bob"})
	require.Equal(t, fiber.StatusCreated, status, string(body))
	var challenge challenges.Challenge
	require.NoError(t, json.Unmarshal(body, &challenge))
	assert.Equal(t, challenges.StatusPending, challenge.Status)

	assert.Equal(t, 30*time.Second, challenge.ExpiresAt.Sub(challenge.CreatedAt))

	status, body = call(t, server, &bob, http.MethodPost, "/duel/challenge", fiber.Map{"opponent_id": string(alice.ID), "ttl_seconds": 1 << 40})
	assert.Equal(t, fiber.StatusConflict, status, string(body))

	status, _ = call(t, server, &alice, http.MethodPost, "/duel/challenge/"+challenge.ID+"/response", fiber.Map{"accept": true})
	assert.Equal(t, fiber.StatusForbidden, status)

	status, body = call(t, server, &bob, http.MethodPost, "/duel/challenge/"+challenge.ID+"/response", fiber.Map{"accept": true})
	require.Equal(t, fiber.StatusOK, status, string(body))
	require.NoError(t, json.Unmarshal(body, &challenge))
	require.Equal(t, challenges.StatusAccepted, challenge.Status)

	status, _ = call(t, server, &alice, http.MethodDelete, "/duel/challenge/"+challenge.ID, nil)
	assert.Equal(t, fiber.StatusGone, status)

	session_path := "/duel/session/" + challenge.SessionID
	status, _ = call(t, server, &alice, http.MethodPost, session_path+"/action", fiber.Map{"kind": "ability", "declared_cost": 60})
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, body = call(t, server, &alice, http.MethodPost, session_path+"/action", fiber.Map{"kind": "basic"})
	require.Equal(t, fiber.StatusAccepted, status, string(body))
	var result duels.ActionResult
	require.NoError(t, json.Unmarshal(body, &result))
	assert.Equal(t, 1, result.Turn)
	assert.False(t, result.Resolved)

	status, _ = call(t, server, &alice, http.MethodPost, session_path+"/action", fiber.Map{"kind": "basic"})
	assert.Equal(t, fiber.StatusConflict, status)

	status, body = call(t, server, &bob, http.MethodPost, session_path+"/action", fiber.Map{"kind": "basic"})
	require.Equal(t, fiber.StatusAccepted, status, string(body))
	require.NoError(t, json.Unmarshal(body, &result))
	assert.True(t, result.Resolved)

	status, body = call(t, server, &bob, http.MethodGet, session_path, nil)
	require.Equal(t, fiber.StatusOK, status)
	var session duels.Session
	require.NoError(t, json.Unmarshal(body, &session))
	assert.Len(t, session.Log, 2)

	status, _ = call(t, server, &bob, http.MethodPost, session_path+"/forfeit", nil)
	assert.Equal(t, fiber.StatusOK, status)
	status, _ = call(t, server, &alice, http.MethodPost, session_path+"/action", fiber.Map{"kind": "basic"})
	assert.Equal(t, fiber.StatusGone, status)

	status, body = call(t, server, &bob, http.MethodPost, "/duel/challenge", fiber.Map{"opponent_handle": "alice", "ttl_seconds": 1 << 40})
	require.Equal(t, fiber.StatusCreated, status, string(body))
	var rematch challenges.Challenge
	require.NoError(t, json.Unmarshal(body, &rematch))
	assert.Equal(t, time.Minute, rematch.ExpiresAt.Sub(rematch.CreatedAt))

	status, _ = call(t, server, &alice, http.MethodGet, "/duel/session/unknown", nil)
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestInternalStats(t *testing.T) {
	t.Parallel()

	server := newTestServer(t)
	require.NoError(t, server.Arena.Connect(context.Background(), alice))

	req := httptest.NewRequest(http.MethodGet, "/internal/stats", nil)
	req.Header.Set("X-Api-Key", testApiKey)
	resp, err := server.App.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var stats struct {
		Arena struct {
			Online int `json:"online"`
		} `json:"arena"`
		OnlineAllInstances int `json:"online_all_instances"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 1, stats.Arena.Online)
	assert.Equal(t, 1, stats.OnlineAllInstances)
}

func TestRoutesUnavailableUntilServing(t *testing.T) {
	t.Parallel()

	server := New(testConfig())
	server.Secrets = server.Config.Secrets()
	server.Configure()
	server.RegisterRoutes()

	status, _ := call(t, server, &alice, http.MethodGet, "/arena/online", nil)
	assert.Equal(t, fiber.StatusServiceUnavailable, status)

	status, _ = call(t, server, nil, http.MethodGet, "/health", nil)
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
}
