package challenges

import (
	"arena/lib"
	"arena/lib/snapshot"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type entry struct {
	mu        sync.Mutex
	challenge Challenge
	timer     *time.Timer
	done      chan struct{}
}

// Coordinator owns the challenge state machine. Each challenge is guarded by
// its own lock; the coordinator lock only protects the id and pair indexes.
type Coordinator struct {
	config   Config
	presence Presence
	opener   SessionOpener
	notifier Notifier
	rooms    WaitingRooms
	now      func() time.Time

	mu         sync.Mutex
	closed     bool
	challenges map[string]*entry
	pairs      map[string]string
	purges     map[string]*time.Timer
}

func NewCoordinator(config Config, presence Presence, opener SessionOpener, notifier Notifier, rooms WaitingRooms) *Coordinator {
	defaults := DefaultConfig()
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = defaults.DefaultTTL
	}
	if config.MaxTTL <= 0 {
		config.MaxTTL = defaults.MaxTTL
	}
	config.MaxTTL = max(config.MaxTTL, config.DefaultTTL)
	if config.Retention <= 0 {
		config.Retention = defaults.Retention
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Coordinator{
		config:     config,
		presence:   presence,
		opener:     opener,
		notifier:   notifier,
		rooms:      rooms,
		now:        time.Now,
		challenges: make(map[string]*entry),
		pairs:      make(map[string]string),
		purges:     make(map[string]*time.Timer),
	}
}

// Issue opens a pending challenge from challenger_id to defender_id.
func (c *Coordinator) Issue(ctx context.Context, challenger_id, defender_id lib.PlayerID, challenger_snapshot snapshot.CombatSnapshot, ttl time.Duration) (Challenge, error) {
	if challenger_id == "" || defender_id == "" || challenger_id == defender_id {
		return Challenge{}, ErrInvalidTarget
	}
	if challenger_snapshot.OwnerID != challenger_id {
		return Challenge{}, ErrInvalidSnapshot
	}
	defender, online := c.presence.Lookup(defender_id)
	if !online {
		return Challenge{}, ErrTargetOffline
	}
	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}
	ttl = min(ttl, c.config.MaxTTL)

	now := c.now().UTC()
	e := &entry{
		challenge: Challenge{
			ID:                 uuid.New().String(),
			ChallengerID:       challenger_id,
			ChallengerHandle:   challenger_snapshot.OwnerHandle,
			DefenderID:         defender_id,
			DefenderHandle:     defender.Handle,
			ChallengerSnapshot: challenger_snapshot,
			CreatedAt:          now,
			ExpiresAt:          now.Add(ttl),
			Status:             StatusPending,
		},
		done: make(chan struct{}),
	}
	id := e.challenge.ID
	pair := lib.PairKey(challenger_id, defender_id)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Challenge{}, ErrCoordinatorClosed
	}
	if existing, ok := c.pairs[pair]; ok {
		c.mu.Unlock()
		return Challenge{}, fmt.Errorf("%w: %s", ErrAlreadyPending, existing)
	}
	c.pairs[pair] = id
	c.challenges[id] = e
	c.mu.Unlock()

	if c.rooms != nil {
		reserved, err := c.rooms.Reserve(ctx, pair, id, ttl)
		if err != nil || !reserved {
			c.mu.Lock()
			delete(c.pairs, pair)
			delete(c.challenges, id)
			c.mu.Unlock()
			if err != nil {
				return Challenge{}, fmt.Errorf("failed to reserve waiting room: %w", err)
			}
			return Challenge{}, ErrAlreadyPending
		}
	}

	e.mu.Lock()
	e.timer = time.AfterFunc(ttl, func() { c.expire(id) })
	issued := e.challenge
	e.mu.Unlock()

	slog.Info("Challenges : challenge issued",
		"challenge_id", id,
		"challenger_id", challenger_id,
		"defender_id", defender_id,
		"ttl", ttl)
	c.notifier.ChallengeIssued(ctx, issued)
	return issued, nil
}

// Accept moves a pending challenge to Accepted and synchronously opens the duel.
func (c *Coordinator) Accept(ctx context.Context, challenge_id string, defender_id lib.PlayerID, defender_snapshot snapshot.CombatSnapshot) (Challenge, error) {
	if defender_snapshot.OwnerID != defender_id {
		return Challenge{}, ErrInvalidSnapshot
	}
	return c.transition(ctx, challenge_id, defender_id, StatusAccepted, &defender_snapshot)
}

func (c *Coordinator) Decline(ctx context.Context, challenge_id string, defender_id lib.PlayerID) (Challenge, error) {
	return c.transition(ctx, challenge_id, defender_id, StatusDeclined, nil)
}

// Withdraw cancels a challenge on behalf of the challenger.
func (c *Coordinator) Withdraw(ctx context.Context, challenge_id string, challenger_id lib.PlayerID) (Challenge, error) {
	return c.transition(ctx, challenge_id, challenger_id, StatusWithdrawn, nil)
}

func (c *Coordinator) expire(challenge_id string) {
	_, err := c.transition(context.Background(), challenge_id, "", StatusExpired, nil)
	if err != nil {
		slog.Debug("Challenges : expiry skipped", "challenge_id", challenge_id, "error", err)
	}
}

// transition applies the first terminal transition of a challenge. Later
// attempts report the recorded outcome: nil for a repeat of the same
// transition, ErrChallengeClosed otherwise.
func (c *Coordinator) transition(ctx context.Context, challenge_id string, actor lib.PlayerID, to Status, defender_snapshot *snapshot.CombatSnapshot) (Challenge, error) {
	e, err := c.lookup(challenge_id)
	if err != nil {
		return Challenge{}, err
	}

	e.mu.Lock()
	switch to {
	case StatusAccepted, StatusDeclined:
		if actor != e.challenge.DefenderID {
			e.mu.Unlock()
			return Challenge{}, ErrNotParticipant
		}
	case StatusWithdrawn:
		if actor != e.challenge.ChallengerID {
			e.mu.Unlock()
			return Challenge{}, ErrNotParticipant
		}
	}

	if e.challenge.Status.Terminal() {
		decided := e.challenge
		e.mu.Unlock()
		if decided.Status == to {
			return decided, nil
		}
		return decided, fmt.Errorf("%w: challenge is %s", ErrChallengeClosed, decided.Status)
	}

	// A deadline that has passed wins over a late response even if the timer
	// goroutine has not run yet.
	now := c.now().UTC()
	if to != StatusExpired && !now.Before(e.challenge.ExpiresAt) {
		decided := c.decideLocked(e, StatusExpired, now)
		e.mu.Unlock()
		c.finish(ctx, decided)
		return decided, fmt.Errorf("%w: challenge is %s", ErrChallengeClosed, decided.Status)
	}

	if to == StatusAccepted {
		session_id, err := c.opener.Open(ctx, e.challenge.ID, e.challenge.ChallengerSnapshot, *defender_snapshot)
		if err != nil {
			pending := e.challenge
			e.mu.Unlock()
			return pending, fmt.Errorf("failed to open duel session: %w", err)
		}
		e.challenge.SessionID = session_id
	}

	decided := c.decideLocked(e, to, now)
	e.mu.Unlock()

	c.finish(ctx, decided)
	return decided, nil
}

func (c *Coordinator) decideLocked(e *entry, to Status, now time.Time) Challenge {
	e.challenge.Status = to
	e.challenge.DecidedAt = now
	if e.timer != nil {
		e.timer.Stop()
	}
	close(e.done)
	return e.challenge
}

// finish releases the pair, notifies both parties and schedules the purge.
func (c *Coordinator) finish(ctx context.Context, decided Challenge) {
	pair := lib.PairKey(decided.ChallengerID, decided.DefenderID)

	c.mu.Lock()
	if c.pairs[pair] == decided.ID {
		delete(c.pairs, pair)
	}
	if !c.closed {
		c.purges[decided.ID] = time.AfterFunc(c.config.Retention, func() { c.purge(decided.ID) })
	}
	c.mu.Unlock()

	if c.rooms != nil {
		if err := c.rooms.Release(context.WithoutCancel(ctx), pair, decided.ID); err != nil {
			slog.Error("Challenges : failed to release waiting room", "challenge_id", decided.ID, "error", err)
		}
	}

	slog.Info("Challenges : challenge decided",
		"challenge_id", decided.ID,
		"status", decided.Status,
		"session_id", decided.SessionID)

	notify_ctx := context.WithoutCancel(ctx)
	c.notifier.ChallengeDecided(notify_ctx, decided.ChallengerID, decided)
	c.notifier.ChallengeDecided(notify_ctx, decided.DefenderID, decided)
}

func (c *Coordinator) purge(challenge_id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.challenges, challenge_id)
	delete(c.purges, challenge_id)
}

func (c *Coordinator) lookup(challenge_id string) (*entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.challenges[challenge_id]
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

// Get returns the current state of a challenge.
func (c *Coordinator) Get(challenge_id string) (Challenge, error) {
	e, err := c.lookup(challenge_id)
	if err != nil {
		return Challenge{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.challenge, nil
}

// Await blocks until the challenge is decided or ctx is done.
func (c *Coordinator) Await(ctx context.Context, challenge_id string) (Challenge, error) {
	e, err := c.lookup(challenge_id)
	if err != nil {
		return Challenge{}, err
	}
	select {
	case <-e.done:
	case <-ctx.Done():
		return Challenge{}, ctx.Err()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.challenge, nil
}

// PendingFor lists the pending challenges issued by or addressed to player_id.
func (c *Coordinator) PendingFor(player_id lib.PlayerID) []Challenge {
	c.mu.Lock()
	entries := make([]*entry, 0, len(c.challenges))
	for _, e := range c.challenges {
		entries = append(entries, e)
	}
	c.mu.Unlock()

	var pending []Challenge
	for _, e := range entries {
		e.mu.Lock()
		if e.challenge.Status == StatusPending && e.challenge.Involves(player_id) {
			pending = append(pending, e.challenge)
		}
		e.mu.Unlock()
	}
	return pending
}

// HandleDisconnect withdraws the challenges player_id issued and declines the
// ones addressed to it. No combat state exists yet, so nothing else is owed.
func (c *Coordinator) HandleDisconnect(ctx context.Context, player_id lib.PlayerID) {
	for _, pending := range c.PendingFor(player_id) {
		var err error
		if pending.ChallengerID == player_id {
			_, err = c.Withdraw(ctx, pending.ID, player_id)
		} else {
			_, err = c.Decline(ctx, pending.ID, player_id)
		}
		if err != nil {
			slog.Debug("Challenges : disconnect transition skipped", "challenge_id", pending.ID, "error", err)
		}
	}
}

// PendingCount returns the number of live challenges.
func (c *Coordinator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pairs)
}

// Close stops every timer. Pending challenges stay pending.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for _, e := range c.challenges {
		e.mu.Lock()
		if e.timer != nil {
			e.timer.Stop()
		}
		e.mu.Unlock()
	}
	for _, purge := range c.purges {
		purge.Stop()
	}
}
