package notifications

import (
	"arena/lib"
	"arena/lib/challenges"
	"arena/lib/duels"
	"arena/lib/settlement"
	"context"
	"log/slog"
	"time"
)

const relaySendTimeout = 5 * time.Second

// Relay turns arena events into player notifications.
type Relay struct {
	service *NotificationService
}

func NewRelay(service *NotificationService) *Relay {
	return &Relay{service: service}
}

func (r *Relay) send(ctx context.Context, t NotificationType, priority NotificationPriority, recipient lib.PlayerID, content any) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), relaySendTimeout)
	defer cancel()

	if err := r.service.Send(ctx, t, priority, recipient, content); err != nil {
		slog.Error("Notifications : relay failed", "type", t, "player_id", recipient, "error", err)
	}
}

func (r *Relay) ChallengeIssued(ctx context.Context, challenge challenges.Challenge) {
	r.send(ctx, TypeChallengeIncoming, PriorityHigh, challenge.DefenderID, challenge)
}

func (r *Relay) ChallengeDecided(ctx context.Context, recipient lib.PlayerID, challenge challenges.Challenge) {
	r.send(ctx, TypeChallengeOutcome, PriorityHigh, recipient, challenge)
}

func (r *Relay) DuelUpdate(ctx context.Context, recipient lib.PlayerID, update duels.Update) {
	r.send(ctx, TypeDuelUpdate, PriorityMedium, recipient, update)
}

func (r *Relay) DuelResult(ctx context.Context, recipient lib.PlayerID, message settlement.Message) {
	r.send(ctx, TypeDuelResult, PriorityHigh, recipient, message)
}

type errorContent struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// Error answers an inbound event that could not be applied.
func (r *Relay) Error(ctx context.Context, recipient lib.PlayerID, request_id string, err error) {
	r.send(ctx, TypeError, PriorityLow, recipient, errorContent{Error: err.Error(), RequestID: request_id})
}
