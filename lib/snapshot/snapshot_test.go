package snapshot

import (
	"arena/lib"
	"arena/lib/players"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type liveRecords struct {
	players map[lib.PlayerID]*players.Attributes
	err     error
}

func (l *liveRecords) ReadAttributes(_ context.Context, id lib.PlayerID) (players.Attributes, error) {
	if l.err != nil {
		return players.Attributes{}, l.err
	}
	player, ok := l.players[id]
	if !ok {
		return players.Attributes{}, fmt.Errorf("%w: %s", players.ErrPlayerNotFound, id)
	}
	return *player, nil
}

func TestSnapshotIsDetachedFromLiveRecord(t *testing.T) {
	t.Parallel()

	live := &players.Attributes{ID: "p1", Handle: "alice", HP: 70, MaxHP: 100, Energy: 30, MaxEnergy: 50, AttackPower: 10, DefensePower: 3, Level: 2}
	service := NewService(&liveRecords{players: map[lib.PlayerID]*players.Attributes{"p1": live}})

	frozen, err := service.Snapshot(context.Background(), "p1")
	require.NoError(t, err)

	// the player buys an upgrade after the challenge went out
	live.AttackPower = 99
	live.HP = 100
	live.Level = 9

	assert.Equal(t, 10, frozen.AttackPower)
	assert.Equal(t, 70, frozen.HP)
	assert.Equal(t, 2, frozen.Level)
	assert.Equal(t, "alice", frozen.OwnerHandle)
}

func TestSnapshotUnknownPlayer(t *testing.T) {
	t.Parallel()

	service := NewService(&liveRecords{players: map[lib.PlayerID]*players.Attributes{}})
	_, err := service.Snapshot(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrUnknownPlayer)
}

func TestSnapshotReaderFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection reset")
	service := NewService(&liveRecords{err: boom})
	_, err := service.Snapshot(context.Background(), "p1")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrUnknownPlayer)
}

func TestFromAttributesClamps(t *testing.T) {
	t.Parallel()

	taken := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		input players.Attributes
		want  CombatSnapshot
	}{
		{
			name:  "hp above max",
			input: players.Attributes{ID: "p", HP: 150, MaxHP: 100, Energy: 10, MaxEnergy: 50, Level: 1},
			want:  CombatSnapshot{OwnerID: "p", HP: 100, MaxHP: 100, Energy: 10, MaxEnergy: 50, Level: 1, TakenAt: taken},
		},
		{
			name:  "negative energy",
			input: players.Attributes{ID: "p", HP: 10, MaxHP: 100, Energy: -5, MaxEnergy: 50, Level: 0},
			want:  CombatSnapshot{OwnerID: "p", HP: 10, MaxHP: 100, Energy: 0, MaxEnergy: 50, Level: 1, TakenAt: taken},
		},
		{
			name:  "zero max hp",
			input: players.Attributes{ID: "p", HP: 0, MaxHP: 0, Level: 4},
			want:  CombatSnapshot{OwnerID: "p", HP: 0, MaxHP: 1, Level: 4, TakenAt: taken},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FromAttributes(tt.input, taken))
		})
	}
}
