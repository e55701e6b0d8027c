package arena

import (
	"arena/lib"
	"arena/lib/duels"
	"context"
	"errors"
	"fmt"
)

var ErrUnknownEvent = errors.New("unknown inbound event type")

type EventType string

const (
	EventChallengeRequest  EventType = "challenge_request"
	EventChallengeResponse EventType = "challenge_response"
	EventChallengeWithdraw EventType = "challenge_withdraw"
	EventDuelAction        EventType = "duel_action"
	EventDuelForfeit       EventType = "duel_forfeit"
)

// Envelope is the JSON body of an inbound player event.
type Envelope struct {
	Type      EventType `json:"type"`
	RequestID string    `json:"request_id,omitempty"`

	ToID       lib.PlayerID `json:"to_id,omitempty"`
	ToHandle   string       `json:"to_handle,omitempty"`
	TTLSeconds int          `json:"ttl_seconds,omitempty"`

	ChallengeID string `json:"challenge_id,omitempty"`
	Accept      bool   `json:"accept,omitempty"`

	SessionID    string           `json:"session_id,omitempty"`
	Kind         duels.ActionKind `json:"kind,omitempty"`
	Ability      string           `json:"ability,omitempty"`
	DeclaredCost int              `json:"declared_cost,omitempty"`
}

// Inbound is an envelope together with the player who sent it.
type Inbound struct {
	PlayerID lib.PlayerID
	Envelope Envelope
}

// ErrorReporter answers the sender of an event that failed.
type ErrorReporter interface {
	Error(ctx context.Context, recipient lib.PlayerID, request_id string, err error)
}

// HandleInbound applies one event on behalf of its sender. Results reach the
// players through the regular notifications.
func (a *Arena) HandleInbound(ctx context.Context, in Inbound) error {
	if in.PlayerID == "" {
		return ErrInvalidPlayer
	}
	event := in.Envelope

	var err error
	switch event.Type {
	case EventChallengeRequest:
		_, err = a.Challenge(ctx, in.PlayerID, Target{ID: event.ToID, Handle: event.ToHandle}, TTLFromSeconds(event.TTLSeconds))
	case EventChallengeResponse:
		_, err = a.Respond(ctx, in.PlayerID, event.ChallengeID, event.Accept)
	case EventChallengeWithdraw:
		_, err = a.Withdraw(ctx, in.PlayerID, event.ChallengeID)
	case EventDuelAction:
		_, err = a.Act(ctx, in.PlayerID, event.SessionID, duels.Action{
			Kind:         event.Kind,
			Ability:      event.Ability,
			DeclaredCost: event.DeclaredCost,
		})
	case EventDuelForfeit:
		_, err = a.Forfeit(ctx, in.PlayerID, event.SessionID)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownEvent, event.Type)
	}
	return err
}
