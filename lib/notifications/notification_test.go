package notifications

import (
	"arena/lib"
	"arena/lib/challenges"
	"arena/lib/server/middleware"
	"arena/lib/services"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, options ...func(*Config)) (*NotificationService, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	cache := services.NewCache(redis.NewClient(&redis.Options{Addr: server.Addr()}))

	config := DefaultConfig()
	config.WorkerCount = 2
	config.RetryDelay = time.Millisecond
	for _, option := range options {
		option(&config)
	}
	service, err := NewNotificationService(config, cache)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	service.Start(ctx)
	t.Cleanup(func() {
		_ = service.Shutdown(context.Background())
		cancel()
		_ = cache.Close()
	})
	return service, server
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	config := DefaultConfig()
	require.NoError(t, config.Validate())

	config.WorkerCount = 0
	assert.ErrorIs(t, config.Validate(), ErrInvalidConfig)

	config = DefaultConfig()
	config.ConnectionTTL = time.Second
	assert.ErrorIs(t, config.Validate(), ErrInvalidConfig)
}

func TestOfflinePlayerGetsBufferedNotifications(t *testing.T) {
	t.Parallel()

	service, server := newTestService(t)
	ctx := context.Background()

	require.NoError(t, service.Send(ctx, TypeChallengeOutcome, PriorityHigh, "p1", map[string]string{"status": "expired"}))
	require.NoError(t, service.Send(ctx, TypeDuelUpdate, PriorityMedium, "p1", map[string]int{"turn": 1}))

	require.Eventually(t, func() bool {
		return service.Stats().Processed == 2
	}, time.Second, 5*time.Millisecond)

	stored, err := server.List("notifications:buffer:p1")
	require.NoError(t, err)
	require.Len(t, stored, 1)

	var notification Notification
	require.NoError(t, json.Unmarshal([]byte(stored[0]), &notification))
	assert.Equal(t, TypeChallengeOutcome, notification.Type)
	assert.JSONEq(t, `{"status":"expired"}`, string(notification.Content))
}

func TestConnectedPlayerReceivesNotifications(t *testing.T) {
	t.Parallel()

	service, server := newTestService(t)
	ctx := context.Background()

	stream := make(chan *Notification, 4)
	_, err := service.registerClient(ctx, "p1", stream)
	require.NoError(t, err)
	assert.True(t, server.Exists("notifications:is_connected:p1"))

	_, err = service.registerClient(ctx, "p1", make(chan *Notification, 1))
	assert.ErrorIs(t, err, ErrAlreadyConnected)

	require.NoError(t, service.Send(ctx, TypeDuelUpdate, PriorityMedium, "p1", map[string]int{"turn": 2}))

	select {
	case notification := <-stream:
		assert.Equal(t, TypeDuelUpdate, notification.Type)
		assert.JSONEq(t, `{"turn":2}`, string(notification.Content))
	case <-time.After(2 * time.Second):
		t.Fatal("notification never relayed")
	}

	service.unregisterClient(ctx, "p1")
	assert.False(t, server.Exists("notifications:is_connected:p1"))
}

func TestStoredNotificationsDeliveredOnConnect(t *testing.T) {
	t.Parallel()

	service, _ := newTestService(t)
	ctx := context.Background()
	relay := NewRelay(service)

	relay.ChallengeIssued(ctx, challenges.Challenge{
		ID:               "c1",
		ChallengerID:     "p2",
		ChallengerHandle: "bob",
		DefenderID:       "p1",
		DefenderHandle:   "alice",
		Status:           challenges.StatusPending,
	})
	require.Eventually(t, func() bool {
		return service.Stats().Processed == 1
	}, time.Second, 5*time.Millisecond)

	stream := make(chan *Notification, 4)
	_, err := service.registerClient(ctx, "p1", stream)
	require.NoError(t, err)
	require.NoError(t, service.deliverStoredNotifications(ctx, "p1"))

	notification := <-stream
	assert.Equal(t, TypeChallengeIncoming, notification.Type)

	var challenge challenges.Challenge
	require.NoError(t, json.Unmarshal(notification.Content, &challenge))
	assert.Equal(t, "c1", challenge.ID)
	assert.Equal(t, "bob", challenge.ChallengerHandle)
}

func TestStoredNotificationsAreCapped(t *testing.T) {
	t.Parallel()

	service, server := newTestService(t, func(config *Config) { config.StoredLimit = 3 })
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, service.Send(ctx, TypeDuelResult, PriorityHigh, "p1", map[string]int{"n": i}))
	}
	require.Eventually(t, func() bool {
		return service.Stats().Processed == 5
	}, time.Second, 5*time.Millisecond)

	stored, err := server.List("notifications:buffer:p1")
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}

func withPlayer(player lib.PlayerRef) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals(middleware.PLAYER_CONTEXT_KEY, middleware.PlayerContext{Player: player})
		return c.Next()
	}
}

func TestSSEHandlerRejections(t *testing.T) {
	t.Parallel()

	service, _ := newTestService(t)
	player := lib.PlayerRef{ID: "p1", Handle: "alice"}

	anonymous := fiber.New()
	anonymous.Get("/notify/session", service.SSENotificationHandler)
	resp, err := anonymous.Test(httptest.NewRequest("GET", "/notify/session", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	_, err = service.registerClient(context.Background(), player.ID, make(chan *Notification, 1))
	require.NoError(t, err)

	app := fiber.New()
	app.Get("/notify/session", withPlayer(player), service.SSENotificationHandler)
	resp, err = app.Test(httptest.NewRequest("GET", "/notify/session", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
}

func TestCloseConnection(t *testing.T) {
	t.Parallel()

	service, server := newTestService(t)
	player := lib.PlayerRef{ID: "p1", Handle: "alice"}

	close_chan, err := service.registerClient(context.Background(), player.ID, make(chan *Notification, 1))
	require.NoError(t, err)

	app := fiber.New()
	app.Post("/notify/close", withPlayer(player), service.CloseConnection)
	app.Get("/notify/refresh", withPlayer(player), service.RefreshHandler)

	resp, err := app.Test(httptest.NewRequest("GET", "/notify/refresh", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("POST", "/notify/close", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	select {
	case <-close_chan:
	default:
		t.Fatal("stream was not signalled")
	}
	assert.False(t, server.Exists("notifications:is_connected:p1"))

	resp, err = app.Test(httptest.NewRequest("GET", "/notify/refresh", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestRefreshExtendsConnectionAndRunsHeartbeatHook(t *testing.T) {
	t.Parallel()

	service, server := newTestService(t)
	player := lib.PlayerRef{ID: "p1", Handle: "alice"}

	beats := make(chan lib.PlayerRef, 1)
	service.SetHooks(Hooks{
		OnHeartbeat: func(_ context.Context, player lib.PlayerRef) { beats <- player },
	})

	_, err := service.registerClient(context.Background(), player.ID, make(chan *Notification, 1))
	require.NoError(t, err)

	app := fiber.New()
	app.Get("/notify/refresh", withPlayer(player), service.RefreshHandler)

	server.FastForward(10 * time.Minute)
	resp, err := app.Test(httptest.NewRequest("GET", "/notify/refresh", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	server.FastForward(10 * time.Minute)

	assert.True(t, server.Exists("notifications:is_connected:p1"))
	select {
	case beat := <-beats:
		assert.Equal(t, player, beat)
	default:
		t.Fatal("heartbeat hook not called")
	}
}
