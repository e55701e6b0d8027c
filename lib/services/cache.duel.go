package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrNoDuelSession = errors.New("no cached duel session")

const DUEL_SESSION_TTL = 1 * time.Hour

// release only deletes the room if it still belongs to the caller's challenge.
var releaseWaitingRoom = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

func waitingRoomKey(pair_key string) string {
	return fmt.Sprintf("duel:waiting_room:%s", pair_key)
}

// ReserveWaitingRoom claims the pair for challenge_id until ttl elapses.
// It reports false when another challenge already holds the pair.
func (cache *Cache) ReserveWaitingRoom(ctx context.Context, pair_key string, challenge_id string, ttl time.Duration) (bool, error) {
	reserved, err := cache.Db.SetNX(ctx, waitingRoomKey(pair_key), challenge_id, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to reserve waiting room: %w", err)
	}
	return reserved, nil
}

func (cache *Cache) ReleaseWaitingRoom(ctx context.Context, pair_key string, challenge_id string) error {
	err := releaseWaitingRoom.Run(ctx, cache.Db, []string{waitingRoomKey(pair_key)}, challenge_id).Err()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to release waiting room: %w", err)
	}
	return nil
}

// WaitingRooms exposes the pair reservation to the challenge coordinator.
type WaitingRooms struct {
	cache *Cache
}

func (cache *Cache) WaitingRooms() *WaitingRooms {
	return &WaitingRooms{cache: cache}
}

func (rooms *WaitingRooms) Reserve(ctx context.Context, pair_key string, challenge_id string, ttl time.Duration) (bool, error) {
	return rooms.cache.ReserveWaitingRoom(ctx, pair_key, challenge_id, ttl)
}

func (rooms *WaitingRooms) Release(ctx context.Context, pair_key string, challenge_id string) error {
	return rooms.cache.ReleaseWaitingRoom(ctx, pair_key, challenge_id)
}

// SetDuelSession keeps the latest state of a duel readable after the
// in-memory session is gone.
func (cache *Cache) SetDuelSession(ctx context.Context, session_id string, session_data any) error {
	session_data_json, err := json.Marshal(session_data)
	if err != nil {
		return fmt.Errorf("failed to marshal duel session data: %w", err)
	}
	err = cache.Db.Set(ctx, fmt.Sprintf("duel:session:%s", session_id), session_data_json, DUEL_SESSION_TTL).Err()
	if err != nil {
		return fmt.Errorf("failed to store duel session cache data: %w", err)
	}
	return nil
}

func (cache *Cache) GetDuelSession(ctx context.Context, session_id string, session_data any) error {
	session_data_json, err := cache.Db.Get(ctx, fmt.Sprintf("duel:session:%s", session_id)).Result()
	if err == redis.Nil {
		return ErrNoDuelSession
	} else if err != nil {
		return fmt.Errorf("failed to get duel session cache data: %w", err)
	}
	if err := json.Unmarshal([]byte(session_data_json), session_data); err != nil {
		return fmt.Errorf("failed to unmarshal duel session data: %w", err)
	}
	return nil
}
