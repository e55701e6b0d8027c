package settlement

import (
	"arena/lib"
	"arena/lib/duels"
	"arena/lib/players"
	"arena/lib/workers"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var ErrNilStore = errors.New("settlement store cannot be nil")

// DeltaApplier persists a participant's delta once per session.
type DeltaApplier interface {
	ApplyRewardDelta(ctx context.Context, session_id string, player_id lib.PlayerID, delta players.RewardDelta) (bool, error)
}

// Relay delivers the DuelResult payloads.
type Relay interface {
	DuelResult(ctx context.Context, recipient lib.PlayerID, message Message)
}

type Config struct {
	Rewards       Rewards
	Workers       int
	RetryAttempts int
	RetryDelay    time.Duration
	ApplyTimeout  time.Duration
}

// Service settles terminal sessions on a worker pool.
type Service struct {
	config Config
	store  DeltaApplier
	relay  Relay
	pool   *workers.Pool[duels.Outcome]
}

func NewService(config Config, store DeltaApplier, relay Relay) (*Service, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	if config.Workers <= 0 {
		config.Workers = 2
	}
	if config.RetryAttempts <= 0 {
		config.RetryAttempts = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 200 * time.Millisecond
	}
	if config.ApplyTimeout <= 0 {
		config.ApplyTimeout = 10 * time.Second
	}

	service := &Service{config: config, store: store, relay: relay}
	pool, err := workers.NewPool("settlement", config.Workers, service.process)
	if err != nil {
		return nil, err
	}
	pool.OnError(func(outcome duels.Outcome, err error) {
		slog.Error("Settlement : outcome not fully settled",
			"session_id", outcome.SessionID,
			"error", err)
	})
	service.pool = pool
	return service, nil
}

func (s *Service) Start(ctx context.Context) {
	s.pool.Start(ctx)
}

// Stop waits for queued outcomes to be settled.
func (s *Service) Stop() {
	s.pool.Stop()
}

// Settle queues a terminal outcome. The caller's cancellation does not drop
// it: it waits for room until the service stops.
func (s *Service) Settle(ctx context.Context, outcome duels.Outcome) error {
	if !outcome.Status.Terminal() {
		return fmt.Errorf("cannot settle session %s in status %s", outcome.SessionID, outcome.Status)
	}
	return s.pool.SubmitWait(context.WithoutCancel(ctx), outcome)
}

func (s *Service) Stats() workers.Stats {
	return s.pool.Stats()
}

func (s *Service) process(ctx context.Context, outcome duels.Outcome) error {
	result := Compute(outcome, s.config.Rewards)

	var errs []error
	for _, player_id := range []lib.PlayerID{outcome.A.ID, outcome.B.ID} {
		if err := s.apply(ctx, outcome.SessionID, player_id, result.Deltas[player_id]); err != nil {
			errs = append(errs, fmt.Errorf("player %s: %w", player_id, err))
		}
	}

	slog.Info("Settlement : session settled",
		"session_id", outcome.SessionID,
		"status", outcome.Status,
		"winner_id", result.WinnerID,
		"leaver_id", result.LeaverID)

	if s.relay != nil {
		for recipient, message := range Messages(outcome, result) {
			s.relay.DuelResult(ctx, recipient, message)
		}
	}
	return errors.Join(errs...)
}

// apply retries transient store failures. A replayed delta is reported as
// not applied by the store and is not an error.
func (s *Service) apply(ctx context.Context, session_id string, player_id lib.PlayerID, delta players.RewardDelta) error {
	var err error
	for attempt := 1; attempt <= s.config.RetryAttempts; attempt++ {
		apply_ctx, cancel := context.WithTimeout(ctx, s.config.ApplyTimeout)
		var applied bool
		applied, err = s.store.ApplyRewardDelta(apply_ctx, session_id, player_id, delta)
		cancel()
		if err == nil {
			if !applied {
				slog.Debug("Settlement : delta already applied", "session_id", session_id, "player_id", player_id)
			}
			return nil
		}
		if errors.Is(err, players.ErrPlayerNotFound) {
			return err
		}

		slog.Warn("Settlement : failed to apply delta",
			"session_id", session_id,
			"player_id", player_id,
			"attempt", attempt,
			"error", err)
		select {
		case <-time.After(time.Duration(attempt) * s.config.RetryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("failed to apply reward delta after %d attempts: %w", s.config.RetryAttempts, err)
}
