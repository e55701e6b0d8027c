// Package snapshot freezes a player's combat attributes when a challenge is
// issued or accepted. Later changes to the live player record (levelling,
// shopping) never reach a duel that was already offered.
package snapshot

import (
	"arena/lib"
	"arena/lib/players"
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrUnknownPlayer = errors.New("unknown player")

// CombatSnapshot is an immutable copy of a player's combat attributes.
// It holds only value fields so that copies never alias.
type CombatSnapshot struct {
	OwnerID      lib.PlayerID `json:"owner_id"`
	OwnerHandle  string       `json:"owner_handle"`
	HP           int          `json:"hp"`
	MaxHP        int          `json:"max_hp"`
	Energy       int          `json:"energy"`
	MaxEnergy    int          `json:"max_energy"`
	AttackPower  int          `json:"attack_power"`
	DefensePower int          `json:"defense_power"`
	Level        int          `json:"level"`
	TakenAt      time.Time    `json:"taken_at"`
}

// AttributeReader is the player-state collaborator.
type AttributeReader interface {
	ReadAttributes(ctx context.Context, player_id lib.PlayerID) (players.Attributes, error)
}

type Service struct {
	reader AttributeReader
	now    func() time.Time
}

func NewService(reader AttributeReader) *Service {
	return &Service{reader: reader, now: time.Now}
}

// Snapshot reads the current attributes of player_id and returns a frozen copy.
func (s *Service) Snapshot(ctx context.Context, player_id lib.PlayerID) (CombatSnapshot, error) {
	attributes, err := s.reader.ReadAttributes(ctx, player_id)
	if errors.Is(err, players.ErrPlayerNotFound) {
		return CombatSnapshot{}, fmt.Errorf("%w: %s", ErrUnknownPlayer, player_id)
	}
	if err != nil {
		return CombatSnapshot{}, fmt.Errorf("failed to read attributes: %w", err)
	}
	return FromAttributes(attributes, s.now()), nil
}

// FromAttributes builds a snapshot, clamping hp and energy into [0, max].
func FromAttributes(attributes players.Attributes, taken_at time.Time) CombatSnapshot {
	max_hp := max(attributes.MaxHP, 1)
	max_energy := max(attributes.MaxEnergy, 0)
	level := max(attributes.Level, 1)
	return CombatSnapshot{
		OwnerID:      attributes.ID,
		OwnerHandle:  attributes.Handle,
		HP:           clamp(attributes.HP, 0, max_hp),
		MaxHP:        max_hp,
		Energy:       clamp(attributes.Energy, 0, max_energy),
		MaxEnergy:    max_energy,
		AttackPower:  max(attributes.AttackPower, 0),
		DefensePower: max(attributes.DefensePower, 0),
		Level:        level,
		TakenAt:      taken_at.UTC(),
	}
}

func clamp(value, low, high int) int {
	return min(max(value, low), high)
}
