package notifications

import (
	"arena/lib"
	"arena/lib/services"
	"arena/lib/workers"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrDeliveryFailed    = errors.New("notification delivery failed")
	ErrAlreadyConnected  = errors.New("player already has a notification session")
	ErrNotConnected      = errors.New("player has no notification session")
	ErrServiceNotStarted = errors.New("notification service not started")
)

type NotificationType string

const (
	TypeChallengeIncoming NotificationType = "challenge_incoming"
	TypeChallengeOutcome  NotificationType = "challenge_outcome"
	TypeDuelUpdate        NotificationType = "duel_update"
	TypeDuelResult        NotificationType = "duel_result"
	TypeError             NotificationType = "error"
	TypePing              NotificationType = "ping"
)

// Ephemeral notifications are dropped rather than buffered for an offline
// player.
func (t NotificationType) Ephemeral() bool {
	return t == TypeDuelUpdate || t == TypePing || t == TypeError
}

type NotificationPriority int

const (
	PriorityLow    NotificationPriority = 1
	PriorityMedium NotificationPriority = 2
	PriorityHigh   NotificationPriority = 3
)

type Notification struct {
	ID        string               `json:"id"`
	Type      NotificationType     `json:"type"`
	PlayerID  lib.PlayerID         `json:"player_id,omitempty"`
	Content   json.RawMessage      `json:"content"`
	CreatedAt time.Time            `json:"created_at"`
	Priority  NotificationPriority `json:"priority"`
}

type Config struct {
	WorkerCount       int
	RetryAttempts     int
	RetryDelay        time.Duration
	HeartbeatInterval time.Duration
	ConnectionTTL     time.Duration
	ClientBuffer      int
	StoredLimit       int64
}

func DefaultConfig() Config {
	return Config{
		WorkerCount:       4,
		RetryAttempts:     3,
		RetryDelay:        100 * time.Millisecond,
		HeartbeatInterval: 30 * time.Second,
		ConnectionTTL:     15 * time.Minute,
		ClientBuffer:      100,
		StoredLimit:       200,
	}
}

func (c *Config) Validate() error {
	if c.WorkerCount < 1 {
		return fmt.Errorf("%w: worker count must be greater than 0", ErrInvalidConfig)
	}
	if c.HeartbeatInterval <= 0 || c.ConnectionTTL <= 0 {
		return fmt.Errorf("%w: heartbeat and connection ttl must be positive", ErrInvalidConfig)
	}
	if c.ConnectionTTL < c.HeartbeatInterval {
		return fmt.Errorf("%w: connection ttl shorter than heartbeat", ErrInvalidConfig)
	}
	if c.ClientBuffer < 1 {
		c.ClientBuffer = 1
	}
	return nil
}

// Hooks let the arena follow notification sessions, which are how a player
// is considered online.
type Hooks struct {
	OnConnect    func(ctx context.Context, player lib.PlayerRef) error
	OnDisconnect func(ctx context.Context, player lib.PlayerRef)
	// OnHeartbeat runs each time a live stream is refreshed.
	OnHeartbeat  func(ctx context.Context, player lib.PlayerRef)
}

// clientRegistry manages active SSE connections on this instance
type clientRegistry struct {
	mu         sync.RWMutex
	clients    map[lib.PlayerID]chan *Notification
	subConns   map[lib.PlayerID]*redis.PubSub
	closeChans map[lib.PlayerID]chan struct{}
}

type NotificationService struct {
	config   Config
	cache    *services.Cache
	pool     *workers.Pool[*Notification]
	hooks    Hooks
	shutdown chan struct{}
	stopOnce sync.Once
	registry *clientRegistry
	bufPool  sync.Pool
}

func NewNotificationService(cfg Config, cache *services.Cache) (*NotificationService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cache == nil || cache.Db == nil {
		return nil, fmt.Errorf("%w: cache is required", ErrInvalidConfig)
	}

	s := &NotificationService{
		config:   cfg,
		cache:    cache,
		shutdown: make(chan struct{}),
		registry: &clientRegistry{
			clients:    make(map[lib.PlayerID]chan *Notification),
			subConns:   make(map[lib.PlayerID]*redis.PubSub),
			closeChans: make(map[lib.PlayerID]chan struct{}),
		},
	}
	s.bufPool.New = func() interface{} {
		b := make([]byte, 0, 1024)
		return &b
	}

	pool, err := workers.NewPool("notifications", cfg.WorkerCount, s.processWithRetry)
	if err != nil {
		return nil, err
	}
	s.pool = pool
	return s, nil
}

func (s *NotificationService) SetHooks(hooks Hooks) {
	s.hooks = hooks
}

func (s *NotificationService) Start(ctx context.Context) {
	slog.Info("Notifications : starting notification service")
	s.pool.Start(ctx)
}

// Send queues a notification for player_id. content is encoded once here.
func (s *NotificationService) Send(
	ctx context.Context,
	t NotificationType,
	priority NotificationPriority,
	player_id lib.PlayerID,
	content any,
) error {
	raw, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("failed to encode notification content: %w", err)
	}
	notification := &Notification{
		ID:        uuid.NewString(),
		Type:      t,
		PlayerID:  player_id,
		Content:   raw,
		CreatedAt: time.Now(),
		Priority:  priority,
	}

	err = s.pool.SubmitWait(ctx, notification)
	if errors.Is(err, workers.ErrPoolNotStarted) {
		return ErrServiceNotStarted
	}
	return err
}

func (s *NotificationService) processWithRetry(ctx context.Context, n *Notification) error {
	err := s.processNotification(ctx, n)
	for i := 0; err != nil && i < s.config.RetryAttempts; i++ {
		slog.Warn("Notifications : retrying notification", "notification_id", n.ID, "error", err)
		select {
		case <-time.After(s.config.RetryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
		err = s.processNotification(ctx, n)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	return nil
}

// processNotification publishes to a connected player, buffers for an
// offline one.
func (s *NotificationService) processNotification(ctx context.Context, n *Notification) error {
	if s.hasActiveConnection(ctx, n.PlayerID) {
		return s.deliverNotification(ctx, n)
	}
	if n.Type.Ephemeral() {
		return nil
	}
	return s.storeNotification(ctx, n)
}

func channelKey(player_id lib.PlayerID) string {
	return fmt.Sprintf("notifications:channel:user:%s", player_id)
}

func bufferKey(player_id lib.PlayerID) string {
	return fmt.Sprintf("notifications:buffer:%s", player_id)
}

func connectedKey(player_id lib.PlayerID) string {
	return fmt.Sprintf("notifications:is_connected:%s", player_id)
}

func (s *NotificationService) deliverNotification(ctx context.Context, n *Notification) error {
	bufPtr := s.bufPool.Get().(*[]byte)
	b := bytes.NewBuffer((*bufPtr)[:0])
	defer s.bufPool.Put(bufPtr)

	if err := json.NewEncoder(b).Encode(n); err != nil {
		return err
	}
	return s.cache.Db.Publish(ctx, channelKey(n.PlayerID), b.Bytes()).Err()
}

// registerClient subscribes the player's channel and marks them connected.
func (s *NotificationService) registerClient(ctx context.Context, player_id lib.PlayerID, notifications chan *Notification) (chan struct{}, error) {
	s.registry.mu.Lock()
	defer s.registry.mu.Unlock()

	if _, exists := s.registry.clients[player_id]; exists {
		return nil, ErrAlreadyConnected
	}

	pubsub := s.cache.Db.Subscribe(ctx, channelKey(player_id))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to Redis channel: %w", err)
	}
	close_chan := make(chan struct{})

	s.registry.clients[player_id] = notifications
	s.registry.subConns[player_id] = pubsub
	s.registry.closeChans[player_id] = close_chan

	go s.relayMessages(player_id, pubsub.Channel(), notifications)

	err := s.cache.Db.Set(ctx, connectedKey(player_id), true, s.config.ConnectionTTL).Err()
	if err != nil {
		slog.Error("Notifications : failed to set connection status", "error", err, "player_id", player_id)
	}

	slog.Info("Notifications : client registered to a notification session", "player_id", player_id)
	return close_chan, nil
}

func (s *NotificationService) unregisterClient(ctx context.Context, player_id lib.PlayerID) {
	s.registry.mu.Lock()
	defer s.registry.mu.Unlock()

	if pubsub, exists := s.registry.subConns[player_id]; exists {
		if err := pubsub.Close(); err != nil {
			slog.Error("Notifications : failed to close pubsub connection", "error", err, "player_id", player_id)
		}
		delete(s.registry.subConns, player_id)
	}
	delete(s.registry.clients, player_id)
	delete(s.registry.closeChans, player_id)

	if err := s.cache.Db.Del(ctx, connectedKey(player_id)).Err(); err != nil {
		slog.Error("Notifications : failed to remove connection status", "error", err, "player_id", player_id)
	}

	slog.Info("Notifications : client has been unregistered from its notification session", "player_id", player_id)
}

// signalClose ends the player's SSE stream on this instance.
func (s *NotificationService) signalClose(player_id lib.PlayerID) bool {
	s.registry.mu.Lock()
	defer s.registry.mu.Unlock()

	close_chan, exists := s.registry.closeChans[player_id]
	if !exists {
		return false
	}
	close(close_chan)
	delete(s.registry.closeChans, player_id)
	return true
}

func (s *NotificationService) isRegistered(player_id lib.PlayerID) bool {
	s.registry.mu.RLock()
	defer s.registry.mu.RUnlock()
	_, exists := s.registry.clients[player_id]
	return exists
}

// relayMessages moves published notifications to the client stream. A full
// stream falls back to the offline buffer.
func (s *NotificationService) relayMessages(player_id lib.PlayerID, redis_messages <-chan *redis.Message, notifications chan<- *Notification) {
	for {
		select {
		case msg, ok := <-redis_messages:
			if !ok {
				return
			}
			notification := &Notification{}
			if err := json.Unmarshal([]byte(msg.Payload), notification); err != nil {
				slog.Error("Notifications : failed to unmarshal notification", "error", err, "player_id", player_id)
				continue
			}
			if !s.isRegistered(player_id) {
				return
			}

			select {
			case notifications <- notification:
			case <-s.shutdown:
				return
			default:
				if notification.Type.Ephemeral() {
					continue
				}
				slog.Warn("Notifications : client channel full, storing notification", "player_id", player_id)
				if err := s.storeNotification(context.Background(), notification); err != nil {
					slog.Error("Notifications : failed to store notification", "error", err, "player_id", player_id)
				}
			}

		case <-s.shutdown:
			return
		}
	}
}

// deliverStoredNotifications drains the offline buffer into the stream.
func (s *NotificationService) deliverStoredNotifications(ctx context.Context, player_id lib.PlayerID) error {
	s.registry.mu.RLock()
	notifications, exists := s.registry.clients[player_id]
	s.registry.mu.RUnlock()
	if !exists {
		return ErrNotConnected
	}

	for {
		result, err := s.cache.Db.LPop(ctx, bufferKey(player_id)).Result()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to get stored notification: %w", err)
		}

		notification := &Notification{}
		if err := json.Unmarshal([]byte(result), notification); err != nil {
			continue
		}

		select {
		case notifications <- notification:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Shutdown stops the workers and every relay goroutine.
func (s *NotificationService) Shutdown(ctx context.Context) error {
	slog.Info("Notifications : shutting down notification service")
	s.stopOnce.Do(func() { close(s.shutdown) })

	done := make(chan struct{})
	go func() {
		s.pool.Stop()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *NotificationService) Stats() workers.Stats {
	return s.pool.Stats()
}

func (s *NotificationService) hasActiveConnection(ctx context.Context, player_id lib.PlayerID) bool {
	count, err := s.cache.Db.Exists(ctx, connectedKey(player_id)).Result()
	if err != nil {
		return false
	}
	return count > 0
}

func (s *NotificationService) storeNotification(ctx context.Context, n *Notification) error {
	slog.Debug("Notifications : storing notification", "notification_id", n.ID, "type", n.Type)
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}

	key := bufferKey(n.PlayerID)
	pipe := s.cache.Db.TxPipeline()
	pipe.RPush(ctx, key, data)
	if s.config.StoredLimit > 0 {
		pipe.LTrim(ctx, key, -s.config.StoredLimit, -1)
	}
	_, err = pipe.Exec(ctx)
	return err
}
