package challenges

import (
	"arena/lib"
	"arena/lib/snapshot"
	"context"
	"errors"
	"time"
)

var (
	ErrAlreadyPending    = errors.New("a challenge is already pending between these players")
	ErrTargetOffline     = errors.New("target is offline")
	ErrInvalidTarget     = errors.New("invalid challenge target")
	ErrInvalidSnapshot   = errors.New("snapshot does not belong to the acting player")
	ErrNotFound          = errors.New("challenge not found")
	ErrChallengeClosed   = errors.New("challenge already decided")
	ErrNotParticipant    = errors.New("player is not allowed to act on this challenge")
	ErrCoordinatorClosed = errors.New("challenge coordinator is closed")
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusDeclined  Status = "declined"
	StatusExpired   Status = "expired"
	StatusWithdrawn Status = "withdrawn"
)

func (s Status) Terminal() bool {
	return s != StatusPending
}

// Challenge is a proposed duel awaiting acceptance.
type Challenge struct {
	ID                 string                  `json:"id"`
	ChallengerID       lib.PlayerID            `json:"challenger_id"`
	ChallengerHandle   string                  `json:"challenger_handle"`
	DefenderID         lib.PlayerID            `json:"defender_id"`
	DefenderHandle     string                  `json:"defender_handle"`
	ChallengerSnapshot snapshot.CombatSnapshot `json:"challenger_snapshot"`
	CreatedAt          time.Time               `json:"created_at"`
	ExpiresAt          time.Time               `json:"expires_at"`
	Status             Status                  `json:"status"`
	SessionID          string                  `json:"session_id,omitempty"`
	DecidedAt          time.Time               `json:"decided_at,omitempty"`
}

// Involves reports whether player_id is the challenger or the defender.
func (c Challenge) Involves(player_id lib.PlayerID) bool {
	return c.ChallengerID == player_id || c.DefenderID == player_id
}

// Presence answers whether a player holds a live connection.
type Presence interface {
	Lookup(player_id lib.PlayerID) (lib.PlayerRef, bool)
}

// SessionOpener creates the duel session for an accepted challenge.
type SessionOpener interface {
	Open(ctx context.Context, challenge_id string, challenger, defender snapshot.CombatSnapshot) (string, error)
}

// Notifier relays challenge events to the players.
type Notifier interface {
	ChallengeIssued(ctx context.Context, challenge Challenge)
	ChallengeDecided(ctx context.Context, recipient lib.PlayerID, challenge Challenge)
}

// WaitingRooms reserves a player pair across coordinator instances.
type WaitingRooms interface {
	Reserve(ctx context.Context, pair_key string, challenge_id string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, pair_key string, challenge_id string) error
}

type Config struct {
	DefaultTTL time.Duration
	// MaxTTL bounds how long a challenge may hold its pair.
	MaxTTL time.Duration
	// Retention keeps decided challenges around so late calls report the outcome.
	Retention time.Duration
}

func DefaultConfig() Config {
	return Config{
		DefaultTTL: 30 * time.Second,
		MaxTTL:     5 * time.Minute,
		Retention:  2 * time.Minute,
	}
}

type nopNotifier struct{}

func (nopNotifier) ChallengeIssued(context.Context, Challenge)                {}
func (nopNotifier) ChallengeDecided(context.Context, lib.PlayerID, Challenge) {}
