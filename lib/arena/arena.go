// Package arena ties presence, challenges and duels together behind the
// operations a connected player can perform.
package arena

import (
	"arena/lib"
	"arena/lib/challenges"
	"arena/lib/duels"
	"arena/lib/presence"
	"arena/lib/snapshot"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrNotOnline     = errors.New("player is not online")
	ErrInvalidPlayer = errors.New("player id and handle are required")
)

const mirrorTimeout = 2 * time.Second

// Mirror keeps a copy of arena state readable by other instances.
type Mirror interface {
	SetPlayerOnline(ctx context.Context, player lib.PlayerRef) error
	SetPlayerOffline(ctx context.Context, player_id lib.PlayerID) error
	SetDuelSession(ctx context.Context, session_id string, session_data any) error
	GetDuelSession(ctx context.Context, session_id string, session_data any) error
}

// Target names the player being challenged, by id or by handle.
type Target struct {
	ID     lib.PlayerID `json:"opponent_id,omitempty"`
	Handle string       `json:"opponent_handle,omitempty"`
}

type Stats struct {
	Online            int `json:"online"`
	PendingChallenges int `json:"pending_challenges"`
	ActiveDuels       int `json:"active_duels"`
}

type Arena struct {
	presence   *presence.Registry
	snapshots  *snapshot.Service
	challenges *challenges.Coordinator
	duels      *duels.Manager
	mirror     Mirror
	tracer     trace.Tracer
}

// New wires the arena. mirror may be nil.
func New(registry *presence.Registry, snapshots *snapshot.Service, coordinator *challenges.Coordinator, manager *duels.Manager, mirror Mirror) *Arena {
	a := &Arena{
		presence:   registry,
		snapshots:  snapshots,
		challenges: coordinator,
		duels:      manager,
		mirror:     mirror,
		tracer:     otel.Tracer("arena"),
	}
	if mirror != nil {
		registry.Watch(a.mirrorPresence)
	}
	return a
}

func (a *Arena) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return a.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Connect makes player addressable for challenges.
func (a *Arena) Connect(ctx context.Context, player lib.PlayerRef) error {
	if player.ID == "" || strings.TrimSpace(player.Handle) == "" {
		return ErrInvalidPlayer
	}
	_, span := a.startSpan(ctx, "arena.connect", attribute.String("player_id", string(player.ID)))
	defer span.End()

	a.presence.Register(player)
	return nil
}

// Disconnect removes player_id from presence, then withdraws or declines its
// pending challenges and abandons its active duels with it as leaver.
func (a *Arena) Disconnect(ctx context.Context, player_id lib.PlayerID) {
	ctx, span := a.startSpan(ctx, "arena.disconnect", attribute.String("player_id", string(player_id)))
	defer span.End()

	a.presence.Unregister(player_id)
	a.challenges.HandleDisconnect(ctx, player_id)
	a.duels.HandleDisconnect(ctx, player_id)
	slog.Info("Arena : player disconnected", "player_id", player_id)
}

// Refresh extends the mirrored presence of a player still held locally.
func (a *Arena) Refresh(ctx context.Context, player_id lib.PlayerID) {
	player, ok := a.presence.Lookup(player_id)
	if !ok || a.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, mirrorTimeout)
	defer cancel()
	if err := a.mirror.SetPlayerOnline(ctx, player); err != nil {
		slog.Warn("Arena : presence refresh failed", "player_id", player_id, "error", err)
	}
}

func (a *Arena) IsOnline(player_id lib.PlayerID) bool {
	return a.presence.IsOnline(player_id)
}

func (a *Arena) Online(excluding lib.PlayerID) []lib.PlayerRef {
	return a.presence.ListOnline(excluding)
}

func (a *Arena) resolveTarget(target Target) (lib.PlayerID, error) {
	if target.ID != "" {
		return target.ID, nil
	}
	if strings.TrimSpace(target.Handle) == "" {
		return "", challenges.ErrInvalidTarget
	}
	player, ok := a.presence.FindByHandle(target.Handle)
	if !ok {
		return "", challenges.ErrTargetOffline
	}
	return player.ID, nil
}

// TTLFromSeconds converts a client supplied ttl. Values past a day are cut
// before the conversion can overflow; the coordinator applies the real bound.
func TTLFromSeconds(seconds int) time.Duration {
	return time.Duration(min(max(seconds, 0), 24*60*60)) * time.Second
}

// Challenge snapshots the challenger and issues a pending challenge.
// ttl is capped by the coordinator's MaxTTL.
func (a *Arena) Challenge(ctx context.Context, challenger_id lib.PlayerID, target Target, ttl time.Duration) (challenge challenges.Challenge, err error) {
	ctx, span := a.startSpan(ctx, "arena.challenge", attribute.String("challenger_id", string(challenger_id)))
	defer func() { endSpan(span, err) }()

	if !a.presence.IsOnline(challenger_id) {
		return challenges.Challenge{}, ErrNotOnline
	}
	defender_id, err := a.resolveTarget(target)
	if err != nil {
		return challenges.Challenge{}, err
	}
	span.SetAttributes(attribute.String("defender_id", string(defender_id)))

	challenger_snapshot, err := a.snapshots.Snapshot(ctx, challenger_id)
	if err != nil {
		return challenges.Challenge{}, err
	}
	return a.challenges.Issue(ctx, challenger_id, defender_id, challenger_snapshot, ttl)
}

// Respond accepts or declines a challenge addressed to player_id. Accepting
// snapshots the defender and opens the duel.
func (a *Arena) Respond(ctx context.Context, player_id lib.PlayerID, challenge_id string, accept bool) (challenge challenges.Challenge, err error) {
	ctx, span := a.startSpan(ctx, "arena.respond",
		attribute.String("player_id", string(player_id)),
		attribute.String("challenge_id", challenge_id),
		attribute.Bool("accept", accept))
	defer func() { endSpan(span, err) }()

	if !accept {
		return a.challenges.Decline(ctx, challenge_id, player_id)
	}

	current, err := a.challenges.Get(challenge_id)
	if err != nil {
		return challenges.Challenge{}, err
	}
	if current.DefenderID != player_id {
		return challenges.Challenge{}, challenges.ErrNotParticipant
	}
	if current.Status.Terminal() {
		return current, challenges.ErrChallengeClosed
	}

	defender_snapshot, err := a.snapshots.Snapshot(ctx, player_id)
	if err != nil {
		return challenges.Challenge{}, err
	}
	challenge, err = a.challenges.Accept(ctx, challenge_id, player_id, defender_snapshot)
	if err != nil {
		return challenge, err
	}
	if a.mirror != nil && challenge.SessionID != "" {
		a.followSession(challenge.SessionID)
	}
	return challenge, nil
}

func (a *Arena) Withdraw(ctx context.Context, player_id lib.PlayerID, challenge_id string) (challenge challenges.Challenge, err error) {
	ctx, span := a.startSpan(ctx, "arena.withdraw",
		attribute.String("player_id", string(player_id)),
		attribute.String("challenge_id", challenge_id))
	defer func() { endSpan(span, err) }()

	return a.challenges.Withdraw(ctx, challenge_id, player_id)
}

// GetChallenge is visible to both parties only.
func (a *Arena) GetChallenge(player_id lib.PlayerID, challenge_id string) (challenges.Challenge, error) {
	challenge, err := a.challenges.Get(challenge_id)
	if err != nil {
		return challenges.Challenge{}, err
	}
	if !challenge.Involves(player_id) {
		return challenges.Challenge{}, challenges.ErrNotParticipant
	}
	return challenge, nil
}

// AwaitChallenge blocks until the challenge leaves Pending or ctx ends.
func (a *Arena) AwaitChallenge(ctx context.Context, player_id lib.PlayerID, challenge_id string) (challenges.Challenge, error) {
	if _, err := a.GetChallenge(player_id, challenge_id); err != nil {
		return challenges.Challenge{}, err
	}
	return a.challenges.Await(ctx, challenge_id)
}

func (a *Arena) PendingFor(player_id lib.PlayerID) []challenges.Challenge {
	return a.challenges.PendingFor(player_id)
}

// Act submits player_id's action for the current turn of session_id.
func (a *Arena) Act(ctx context.Context, player_id lib.PlayerID, session_id string, action duels.Action) (result duels.ActionResult, err error) {
	ctx, span := a.startSpan(ctx, "arena.act",
		attribute.String("player_id", string(player_id)),
		attribute.String("session_id", session_id),
		attribute.String("kind", string(action.Kind)))
	defer func() { endSpan(span, err) }()

	action.ActorID = player_id
	result, err = a.duels.SubmitAction(ctx, session_id, action)
	if err == nil {
		span.SetAttributes(attribute.Int("turn", result.Turn), attribute.Bool("resolved", result.Resolved))
	}
	return result, err
}

// Forfeit abandons session_id with player_id as leaver.
func (a *Arena) Forfeit(ctx context.Context, player_id lib.PlayerID, session_id string) (session duels.Session, err error) {
	ctx, span := a.startSpan(ctx, "arena.forfeit",
		attribute.String("player_id", string(player_id)),
		attribute.String("session_id", session_id))
	defer func() { endSpan(span, err) }()

	return a.duels.Abandon(ctx, session_id, player_id)
}

// Session returns a participant's view of a duel. Sessions already purged
// from memory are read back from the mirror.
func (a *Arena) Session(ctx context.Context, player_id lib.PlayerID, session_id string) (duels.Session, error) {
	session, err := a.duels.Get(session_id)
	if errors.Is(err, duels.ErrNotFound) && a.mirror != nil {
		if cache_err := a.mirror.GetDuelSession(ctx, session_id, &session); cache_err != nil {
			return duels.Session{}, err
		}
	} else if err != nil {
		return duels.Session{}, err
	}
	if _, ok := session.Participant(player_id); !ok {
		return duels.Session{}, duels.ErrNotParticipant
	}
	return session, nil
}

func (a *Arena) ActiveFor(player_id lib.PlayerID) []duels.Session {
	return a.duels.ActiveFor(player_id)
}

func (a *Arena) Stats() Stats {
	return Stats{
		Online:            a.presence.Count(),
		PendingChallenges: a.challenges.PendingCount(),
		ActiveDuels:       a.duels.ActiveCount(),
	}
}

func (a *Arena) mirrorPresence(event presence.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()

	var err error
	switch event.Kind {
	case presence.EventOnline:
		err = a.mirror.SetPlayerOnline(ctx, event.Player)
	case presence.EventOffline:
		err = a.mirror.SetPlayerOffline(ctx, event.Player.ID)
	}
	if err != nil {
		slog.Warn("Arena : presence mirror failed", "player_id", event.Player.ID, "error", err)
	}
}

// followSession copies every state change of session_id to the mirror until
// the session ends.
func (a *Arena) followSession(session_id string) {
	updates, stop, err := a.duels.Watch(session_id)
	if errors.Is(err, duels.ErrSessionTerminal) {
		a.storeSession(session_id)
		return
	} else if err != nil {
		slog.Warn("Arena : cannot follow session", "session_id", session_id, "error", err)
		return
	}
	a.storeSession(session_id)

	go func() {
		defer stop()
		for range updates {
			a.storeSession(session_id)
		}
		a.storeSession(session_id)
	}()
}

func (a *Arena) storeSession(session_id string) {
	session, err := a.duels.Get(session_id)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	if err := a.mirror.SetDuelSession(ctx, session_id, session); err != nil {
		slog.Warn("Arena : session mirror failed", "session_id", session_id, "error", fmt.Errorf("store session: %w", err))
	}
}
