package duels

import (
	"arena/lib"
	"arena/lib/snapshot"
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound             = errors.New("duel session not found")
	ErrSessionTerminal      = errors.New("duel session is over")
	ErrNotParticipant       = errors.New("player is not part of this duel")
	ErrTurnAlreadySubmitted = errors.New("action already submitted for this turn")
	ErrInsufficientEnergy   = errors.New("insufficient energy")
	ErrUnknownAbility       = errors.New("unknown ability")
	ErrInvalidAction        = errors.New("invalid action")
	ErrInvalidParticipants  = errors.New("a duel needs two distinct participants")
	ErrManagerClosed        = errors.New("duel manager is closed")
)

type Status string

const (
	StatusActive       Status = "active"
	StatusResolvedWin  Status = "resolved_win"
	StatusResolvedDraw Status = "resolved_draw"
	StatusAbandoned    Status = "abandoned"
)

func (s Status) Terminal() bool {
	return s != StatusActive
}

type ActionKind string

const (
	KindBasic   ActionKind = "basic"
	KindAbility ActionKind = "ability"
	KindHeal    ActionKind = "heal"
)

type Action struct {
	ActorID      lib.PlayerID `json:"actor_id"`
	Kind         ActionKind   `json:"kind"`
	Ability      string       `json:"ability,omitempty"`
	DeclaredCost int          `json:"declared_cost"`
}

type Participant struct {
	ID       lib.PlayerID            `json:"id"`
	Handle   string                  `json:"handle"`
	Snapshot snapshot.CombatSnapshot `json:"snapshot"`
	HP       int                     `json:"hp"`
	Energy   int                     `json:"energy"`
	// Missed counts consecutive turns resolved with a fallback action.
	Missed int `json:"missed"`
}

func (p Participant) State() ParticipantState {
	return ParticipantState{
		ID:        p.ID,
		Handle:    p.Handle,
		HP:        p.HP,
		MaxHP:     p.Snapshot.MaxHP,
		Energy:    p.Energy,
		MaxEnergy: p.Snapshot.MaxEnergy,
	}
}

type ParticipantState struct {
	ID        lib.PlayerID `json:"id"`
	Handle    string       `json:"handle"`
	HP        int          `json:"hp"`
	MaxHP     int          `json:"max_hp"`
	Energy    int          `json:"energy"`
	MaxEnergy int          `json:"max_energy"`
}

// LogEntry records one resolved action and the state right after it.
type LogEntry struct {
	Turn     int          `json:"turn"`
	ActorID  lib.PlayerID `json:"actor_id"`
	Kind     ActionKind   `json:"kind"`
	Ability  string       `json:"ability,omitempty"`
	Cost     int          `json:"cost"`
	Damage   int          `json:"damage"`
	Healing  int          `json:"healing"`
	Fallback bool         `json:"fallback,omitempty"`
	Skipped  bool         `json:"skipped,omitempty"`
	HPA      int          `json:"hp_a"`
	EnergyA  int          `json:"energy_a"`
	HPB      int          `json:"hp_b"`
	EnergyB  int          `json:"energy_b"`
}

// Session is a detached view of a duel.
type Session struct {
	ID          string       `json:"id"`
	ChallengeID string       `json:"challenge_id"`
	A           Participant  `json:"a"`
	B           Participant  `json:"b"`
	Turn        int          `json:"turn"`
	Log         []LogEntry   `json:"log"`
	Status      Status       `json:"status"`
	WinnerID    lib.PlayerID `json:"winner_id,omitempty"`
	LeaverID    lib.PlayerID `json:"leaver_id,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	EndedAt     time.Time    `json:"ended_at,omitempty"`
}

// Participant returns the seat held by player_id.
func (s Session) Participant(player_id lib.PlayerID) (Participant, bool) {
	switch player_id {
	case s.A.ID:
		return s.A, true
	case s.B.ID:
		return s.B, true
	}
	return Participant{}, false
}

// Opponent returns the seat facing player_id.
func (s Session) Opponent(player_id lib.PlayerID) (Participant, bool) {
	switch player_id {
	case s.A.ID:
		return s.B, true
	case s.B.ID:
		return s.A, true
	}
	return Participant{}, false
}

type ActionResult struct {
	SessionID string `json:"session_id"`
	// Turn is the logical turn the action was accepted for.
	Turn     int     `json:"turn"`
	Cost     int     `json:"cost"`
	Resolved bool    `json:"resolved"`
	Session  Session `json:"session"`
}

// Update is sent to both participants after a session opens, after each
// resolved turn and when it ends.
type Update struct {
	SessionID    string             `json:"session_id"`
	ChallengeID  string             `json:"challenge_id"`
	Turn         int                `json:"turn"`
	Status       Status             `json:"status"`
	WinnerID     lib.PlayerID       `json:"winner_id,omitempty"`
	LeaverID     lib.PlayerID       `json:"leaver_id,omitempty"`
	Participants []ParticipantState `json:"participants"`
	Entries      []LogEntry         `json:"entries,omitempty"`
}

// Outcome is handed to settlement once per terminal session.
type Outcome struct {
	SessionID   string       `json:"session_id"`
	ChallengeID string       `json:"challenge_id"`
	Status      Status       `json:"status"`
	WinnerID    lib.PlayerID `json:"winner_id,omitempty"`
	LeaverID    lib.PlayerID `json:"leaver_id,omitempty"`
	A           Participant  `json:"a"`
	B           Participant  `json:"b"`
	Turns       int          `json:"turns"`
	EndedAt     time.Time    `json:"ended_at"`
}

// LoserID is empty for draws and abandoned sessions.
func (o Outcome) LoserID() lib.PlayerID {
	if o.Status != StatusResolvedWin {
		return ""
	}
	if o.WinnerID == o.A.ID {
		return o.B.ID
	}
	return o.A.ID
}

func (o Outcome) Participant(player_id lib.PlayerID) (Participant, bool) {
	switch player_id {
	case o.A.ID:
		return o.A, true
	case o.B.ID:
		return o.B, true
	}
	return Participant{}, false
}

type Notifier interface {
	DuelUpdate(ctx context.Context, recipient lib.PlayerID, update Update)
}

type Settler interface {
	Settle(ctx context.Context, outcome Outcome) error
}

type Resolution string

const (
	// ResolutionSequential skips a participant knocked out earlier in the turn.
	ResolutionSequential Resolution = "sequential"
	// ResolutionSimultaneous applies both committed actions; both may fall.
	ResolutionSimultaneous Resolution = "simultaneous"
)

func ParseResolution(value string) (Resolution, error) {
	switch Resolution(value) {
	case ResolutionSequential, "":
		return ResolutionSequential, nil
	case ResolutionSimultaneous:
		return ResolutionSimultaneous, nil
	}
	return "", fmt.Errorf("unknown resolution mode %q", value)
}

type Rules struct {
	Resolution     Resolution
	TurnGrace      time.Duration
	IdleTimeout    time.Duration
	MaxMissedTurns int
	Regen          int
	Retention      time.Duration
	Abilities      Catalogue
}

func DefaultRules() Rules {
	return Rules{
		Resolution:     ResolutionSequential,
		TurnGrace:      15 * time.Second,
		IdleTimeout:    2 * time.Minute,
		MaxMissedTurns: 3,
		Regen:          5,
		Retention:      2 * time.Minute,
		Abilities:      DefaultAbilities(),
	}
}

func (r Rules) withDefaults() Rules {
	defaults := DefaultRules()
	if r.Resolution == "" {
		r.Resolution = defaults.Resolution
	}
	if r.TurnGrace <= 0 {
		r.TurnGrace = defaults.TurnGrace
	}
	if r.IdleTimeout <= 0 {
		r.IdleTimeout = defaults.IdleTimeout
	}
	if r.MaxMissedTurns <= 0 {
		r.MaxMissedTurns = defaults.MaxMissedTurns
	}
	if r.Regen <= 0 {
		r.Regen = defaults.Regen
	}
	if r.Retention <= 0 {
		r.Retention = defaults.Retention
	}
	if r.Abilities == nil {
		r.Abilities = defaults.Abilities
	}
	return r
}

type nopNotifier struct{}

func (nopNotifier) DuelUpdate(context.Context, lib.PlayerID, Update) {}

type nopSettler struct{}

func (nopSettler) Settle(context.Context, Outcome) error { return nil }
