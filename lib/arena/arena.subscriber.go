package arena

import (
	"arena/lib"
	"arena/lib/services"
	"arena/lib/workers"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

var (
	ErrNilWorkerPool     = errors.New("worker pool cannot be nil")
	ErrSubscriberActive  = errors.New("subscriber is already active")
	ErrEmptyInboundEvent = errors.New("empty message received")
)

const (
	InboundChannelPrefix = "arena:inbound:"
	InboundChannel       = InboundChannelPrefix + "*"
)

func InboundChannelFor(player_id lib.PlayerID) string {
	return InboundChannelPrefix + string(player_id)
}

// PublishInbound sends an event on behalf of player_id.
func PublishInbound(ctx context.Context, cache *services.Cache, player_id lib.PlayerID, event Envelope) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode inbound event: %w", err)
	}
	return cache.Db.Publish(ctx, InboundChannelFor(player_id), payload).Err()
}

// Subscriber feeds the player event channels into a worker pool.
type Subscriber struct {
	worker_pool *workers.Pool[Inbound]
	channel     string
	pubsub      *redis.PubSub
	mu          sync.Mutex
	is_active   bool
}

func NewSubscriber(worker_pool *workers.Pool[Inbound]) (*Subscriber, error) {
	if worker_pool == nil {
		return nil, ErrNilWorkerPool
	}

	return &Subscriber{
		worker_pool: worker_pool,
		channel:     InboundChannel,
		is_active:   false,
	}, nil
}

// Subscribe starts listening for player events
func (s *Subscriber) Subscribe(ctx context.Context, cache *services.Cache) error {
	s.mu.Lock()
	if s.is_active {
		s.mu.Unlock()
		return ErrSubscriberActive
	}

	slog.Debug("Arena : subscribing to the inbound channel", "channel", s.channel)
	pubsub := cache.Db.PSubscribe(ctx, s.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		s.mu.Unlock()
		return fmt.Errorf("failed to subscribe to inbound channel: %w", err)
	}
	s.pubsub = pubsub
	s.is_active = true
	s.mu.Unlock()

	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					slog.Info("Arena : inbound channel closed")
					return
				}

				player_id := lib.PlayerID(strings.TrimPrefix(msg.Channel, InboundChannelPrefix))
				if err := s.processMessage(msg.Payload, player_id); err != nil {
					slog.Error("Arena : failed to process inbound event",
						"error", err,
						"channel", msg.Channel)
				}

			case <-ctx.Done():
				slog.Info("Arena : context cancelled, stopping subscriber")
				s.UnSubscribe(context.Background())
				return
			}
		}
	}()

	return nil
}

// UnSubscribe stops listening for messages
func (s *Subscriber) UnSubscribe(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.is_active {
		return nil
	}

	slog.Debug("Arena : unsubscribing from the inbound channel", "channel", s.channel)
	s.is_active = false
	if err := s.pubsub.PUnsubscribe(ctx, s.channel); err != nil {
		_ = s.pubsub.Close()
		return err
	}
	return s.pubsub.Close()
}

func (s *Subscriber) processMessage(message string, player_id lib.PlayerID) error {
	if message == "" {
		return ErrEmptyInboundEvent
	}
	if player_id == "" {
		return ErrInvalidPlayer
	}

	var event Envelope
	if err := json.Unmarshal([]byte(message), &event); err != nil {
		return err
	}

	return s.worker_pool.Submit(Inbound{PlayerID: player_id, Envelope: event})
}
