package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

type Cache struct {
	Db *redis.Client
}

// NewCache wraps an existing client.
func NewCache(client *redis.Client) *Cache {
	return &Cache{Db: client}
}

func (cache *Cache) Connect(address string, username string, password string) error {
	db := redis.NewClient(&redis.Options{
		Addr:     address,
		Username: username,
		Password: password,
	})
	cache.Db = db
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := cache.Db.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to connect to the cache: %w", err)
	}
	slog.Info("Cache connection succeeded", "address", address)
	return nil
}

func (cache *Cache) Health() bool {
	if cache == nil || cache.Db == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	return cache.Db.Ping(ctx).Err() == nil
}

func (cache *Cache) Close() error {
	if cache == nil || cache.Db == nil {
		return nil
	}
	return cache.Db.Close()
}
