package server

import (
	"arena/lib"
	"arena/lib/arena"
	"arena/lib/challenges"
	"arena/lib/config"
	"arena/lib/duels"
	"arena/lib/maintenance"
	"arena/lib/notifications"
	"arena/lib/players"
	"arena/lib/presence"
	"arena/lib/server/middleware"
	"arena/lib/services"
	"arena/lib/settlement"
	"arena/lib/snapshot"
	"arena/lib/vault"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

const SERVICE_NAME = "arena"

var ErrNotWired = errors.New("arena components are not wired")

type ArenaServer struct {
	*fiber.App
	Config        config.Config
	Db            services.Database
	Cache         *services.Cache
	Store         *players.Store
	Notifications *notifications.NotificationService
	Settlement    *settlement.Service
	Coordinator   *challenges.Coordinator
	Duels         *duels.Manager
	Arena         *arena.Arena
	Supervisor    *arena.Supervisor
	Secrets       vault.Secrets
	StateMachine  *maintenance.StateMachine

	cancel           context.CancelFunc
	shutdown_tracing func(context.Context) error
}

func New(cfg config.Config) *ArenaServer {
	return &ArenaServer{
		App: fiber.New(fiber.Config{
			AppName:      SERVICE_NAME,
			ErrorHandler: errorHandler,
		}),
		Config:           cfg,
		Db:               services.DefaultDatabase(),
		StateMachine:     maintenance.NewStateMachine(),
		shutdown_tracing: func(context.Context) error { return nil },
	}
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fiber_err *fiber.Error
	if errors.As(err, &fiber_err) {
		code = fiber_err.Code
	}
	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}

func (server *ArenaServer) Configure() {
	server.App.Use(recover.New())
	server.App.Use(middleware.Tracing(SERVICE_NAME))
	server.App.Use(middleware.Logger())
	server.App.Use(middleware.WithStateMachine(server.StateMachine))
	server.App.Use(helmet.New())
	server.App.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(server.Config.CorsOrigins, ","),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))
}

// Start configures the app and connects the services in the background.
// Routes answer 503 until the server reaches SERVING.
func (server *ArenaServer) Start(ctx context.Context) {
	slog.Info("Starting the server")

	server.Configure()
	server.RegisterRoutes()

	server.StateMachine.When(maintenance.STATE_CONNECTING, func() {
		slog.Info("Connecting services ...")
		if err := server.Connect(ctx); err != nil {
			slog.Error("Services connection failed", "error", err)
			server.StateMachine.To(maintenance.STATE_FAILED)
			return
		}
		server.StateMachine.To(maintenance.STATE_SERVING)
	})
	server.StateMachine.To(maintenance.STATE_CONNECTING)
}

// Connect fetches secrets, opens the cache and player store, and wires the
// arena on top of them.
func (server *ArenaServer) Connect(ctx context.Context) error {
	shutdown_tracing, err := maintenance.InitTracing(ctx, SERVICE_NAME, server.Config.OtelEndpoint)
	if err != nil {
		slog.Warn("Tracing setup failed", "error", err)
	}
	server.shutdown_tracing = shutdown_tracing

	secrets := server.Config.Secrets()
	if server.Config.VaultAddress != "" {
		vault_manager, err := vault.NewVaultManager(server.Config.VaultAddress)
		if err != nil {
			return err
		}
		if !vault_manager.Health() {
			return vault.ErrVaultUnavailable
		}
		if secrets, err = vault_manager.Secrets(); err != nil {
			return err
		}
	}
	server.Secrets = secrets

	cache := services.NewCache(nil)
	if err := cache.Connect(server.Config.CacheAddress, server.Config.CacheUsername, secrets.CachePassword); err != nil {
		return err
	}

	var store *players.Store
	switch server.Config.DbDriver {
	case "pgx":
		if err := server.Db.Connect(server.Config.DbAddress, server.Config.DbName, server.Config.DbUser, secrets.DbPassword); err != nil {
			return err
		}
		store, err = players.OpenPostgres(ctx, server.Db.Pool)
	default:
		store, err = players.OpenSQLite(ctx, server.Config.SqlitePath)
	}
	if err != nil {
		return fmt.Errorf("failed to open player store: %w", err)
	}

	return server.Wire(ctx, cache, store)
}

// Wire builds the arena components on an open cache and store and starts
// their workers.
func (server *ArenaServer) Wire(ctx context.Context, cache *services.Cache, store *players.Store) error {
	ctx, cancel := context.WithCancel(ctx)
	server.cancel = cancel
	server.Cache = cache
	server.Store = store

	notification_config := notifications.DefaultConfig()
	notification_config.WorkerCount = server.Config.NotificationWorkers
	notification_service, err := notifications.NewNotificationService(notification_config, cache)
	if err != nil {
		return err
	}
	relay := notifications.NewRelay(notification_service)

	settlement_service, err := settlement.NewService(settlement.Config{
		Rewards: server.Config.Rewards(),
		Workers: server.Config.SettlementWorkers,
	}, store, relay)
	if err != nil {
		return err
	}

	registry := presence.NewRegistry()
	manager := duels.NewManager(server.Config.Rules(), nil, relay, settlement_service)
	challenge_config := challenges.DefaultConfig()
	challenge_config.DefaultTTL = server.Config.ChallengeTTL
	challenge_config.MaxTTL = server.Config.ChallengeMaxTTL
	coordinator := challenges.NewCoordinator(challenge_config, registry, manager, relay, cache.WaitingRooms())
	arena_service := arena.New(registry, snapshot.NewService(store), coordinator, manager, cache)

	notification_service.SetHooks(notifications.Hooks{
		OnConnect:    arena_service.Connect,
		OnDisconnect: func(ctx context.Context, player lib.PlayerRef) { arena_service.Disconnect(ctx, player.ID) },
		OnHeartbeat:  func(ctx context.Context, player lib.PlayerRef) { arena_service.Refresh(ctx, player.ID) },
	})

	supervisor, err := arena.NewSupervisor(arena_service, relay, server.Config.InboundWorkers)
	if err != nil {
		return err
	}

	notification_service.Start(ctx)
	settlement_service.Start(ctx)
	if err := supervisor.Start(ctx, cache); err != nil {
		return err
	}

	server.Notifications = notification_service
	server.Settlement = settlement_service
	server.Coordinator = coordinator
	server.Duels = manager
	server.Arena = arena_service
	server.Supervisor = supervisor

	slog.Info("Arena : components wired",
		"resolution", server.Config.Resolution,
		"reward_variant", server.Config.RewardVariant)
	return nil
}

func (server *ArenaServer) jwtKey() (string, error) {
	if server.Secrets.JwtKey == "" {
		return "", errors.New("jwt key not loaded")
	}
	return server.Secrets.JwtKey, nil
}

func (server *ArenaServer) apiKey() (string, error) {
	if server.Secrets.ApiKey == "" {
		return "", errors.New("api key not loaded")
	}
	return server.Secrets.ApiKey, nil
}

// Shutdown drains in dependency order: stop taking requests and events,
// stop the timers, settle what is queued, then close the connections.
func (server *ArenaServer) Shutdown(ctx context.Context) error {
	server.StateMachine.To(maintenance.STATE_DRAINING)

	var errs []error
	if err := server.App.ShutdownWithContext(ctx); err != nil {
		errs = append(errs, err)
	}
	if server.Supervisor != nil {
		if err := server.Supervisor.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if server.Coordinator != nil {
		server.Coordinator.Close()
	}
	if server.Duels != nil {
		server.Duels.Close()
	}
	if server.Settlement != nil {
		server.Settlement.Stop()
	}
	if server.Notifications != nil {
		if err := server.Notifications.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if server.cancel != nil {
		server.cancel()
	}
	if server.Cache != nil {
		if err := server.Cache.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if server.Store != nil {
		if err := server.Store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	server.Db.Close()

	tracing_ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.shutdown_tracing(tracing_ctx); err != nil {
		errs = append(errs, err)
	}

	server.StateMachine.To(maintenance.STATE_STOPPED)
	return errors.Join(errs...)
}
