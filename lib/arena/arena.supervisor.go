package arena

import (
	"arena/lib/services"
	"arena/lib/workers"
	"context"
	"errors"
	"log/slog"
	"sync"
)

var (
	ErrSupervisorStarted = errors.New("supervisor is already started")
	ErrNilCache          = errors.New("cache cannot be nil")
)

// Supervisor runs the inbound pipeline: the Redis subscriber and the worker
// pool applying events to the arena.
type Supervisor struct {
	subscriber  *Subscriber
	worker_pool *workers.Pool[Inbound]
	is_running  bool
	mu          sync.RWMutex
}

func NewSupervisor(arena *Arena, reporter ErrorReporter, worker_size int) (*Supervisor, error) {
	if worker_size <= 0 {
		return nil, errors.New("worker size must be positive")
	}

	worker_pool, err := workers.NewPool("arena-inbound", worker_size, arena.HandleInbound)
	if err != nil {
		return nil, err
	}
	worker_pool.OnError(func(in Inbound, err error) {
		if reporter != nil {
			reporter.Error(context.Background(), in.PlayerID, in.Envelope.RequestID, err)
		}
	})

	subscriber, err := NewSubscriber(worker_pool)
	if err != nil {
		return nil, err
	}

	return &Supervisor{
		subscriber:  subscriber,
		worker_pool: worker_pool,
		is_running:  false,
	}, nil
}

// Start begins the supervision of the subscriber and worker pool
func (s *Supervisor) Start(ctx context.Context, cache *services.Cache) error {
	if cache == nil || cache.Db == nil {
		return ErrNilCache
	}
	s.mu.Lock()
	if s.is_running {
		s.mu.Unlock()
		return ErrSupervisorStarted
	}
	s.is_running = true
	s.mu.Unlock()

	s.worker_pool.Start(ctx)
	if err := s.subscriber.Subscribe(ctx, cache); err != nil {
		s.Stop(context.Background())
		return err
	}

	go func() {
		<-ctx.Done()
		if err := s.Stop(context.Background()); err != nil {
			s.HandleError(err)
		}
	}()

	slog.Info("Arena : inbound supervisor started")
	return nil
}

// Stop unsubscribes first, then drains the queued events.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.is_running {
		s.mu.Unlock()
		return nil
	}
	s.is_running = false
	s.mu.Unlock()

	err := s.subscriber.UnSubscribe(ctx)
	if err != nil {
		slog.Error("Arena : subscriber shutdown failed", "error", err)
	}
	s.worker_pool.Stop()
	return err
}

func (s *Supervisor) Stats() workers.Stats {
	return s.worker_pool.Stats()
}

func (s *Supervisor) HandleError(err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, context.Canceled):
		slog.Info("Arena : supervisor shutdown due to context cancellation")
	case errors.Is(err, workers.ErrPoolNotStarted):
		slog.Error("Arena : inbound worker pool failed to start")
	default:
		slog.Error("Arena : unexpected error in inbound processing", "error", err, "component", "supervisor")
	}
}
