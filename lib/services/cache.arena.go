package services

import (
	"arena/lib"
	"context"
	"fmt"
	"time"
)

const PRESENCE_TTL = 15 * time.Minute

func presenceKey(player_id lib.PlayerID) string {
	return fmt.Sprintf("arena:online:%s", player_id)
}

// SetPlayerOnline mirrors a local presence registration so other instances
// can count who is connected. Calling it again extends the TTL.
func (cache *Cache) SetPlayerOnline(ctx context.Context, player lib.PlayerRef) error {
	err := cache.Db.Set(ctx, presenceKey(player.ID), player.Handle, PRESENCE_TTL).Err()
	if err != nil {
		return fmt.Errorf("failed to mirror presence: %w", err)
	}
	return nil
}

func (cache *Cache) SetPlayerOffline(ctx context.Context, player_id lib.PlayerID) error {
	err := cache.Db.Del(ctx, presenceKey(player_id)).Err()
	if err != nil {
		return fmt.Errorf("failed to clear presence: %w", err)
	}
	return nil
}

// CountOnline counts mirrored players across every instance.
func (cache *Cache) CountOnline(ctx context.Context) (int, error) {
	count := 0
	var cursor uint64 = 0
	for {
		keys, next_cursor, err := cache.Db.Scan(ctx, cursor, "arena:online:*", 100).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to scan presence keys: %w", err)
		}
		count += len(keys)
		cursor = next_cursor
		if cursor == 0 {
			break
		}
	}
	return count, nil
}
