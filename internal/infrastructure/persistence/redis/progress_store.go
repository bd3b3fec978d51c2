package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/melon-hub/melon-rank/internal/domain/progression"
	"github.com/melon-hub/melon-rank/internal/infrastructure/persistence/codec"
)

// DefaultKey is the hash holding one JSON record per member.
const DefaultKey = "melonrank:progress"

// ProgressStore implements progression.Store on a Redis hash.
//
// Layout:
//
//	HSET melonrank:progress <member_id> {"chat_xp":..,"chat_level":..,...}
type ProgressStore struct {
	client *redis.Client
	key    string
}

// NewProgressStore creates a store writing under key (DefaultKey if empty).
func NewProgressStore(client *redis.Client, key string) *ProgressStore {
	if key == "" {
		key = DefaultKey
	}
	return &ProgressStore{client: client, key: key}
}

// Name identifies the store in logs.
func (s *ProgressStore) Name() string { return "redis" }

// Key returns the hash key.
func (s *ProgressStore) Key() string { return s.key }

// Ping checks if Redis is reachable.
func (s *ProgressStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// LoadAll reads the whole hash. A missing key is an empty table.
func (s *ProgressStore) LoadAll(ctx context.Context) (progression.Table, error) {
	raw, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: load %s: %w", s.key, err)
	}

	table := make(progression.Table, len(raw))
	for id, data := range raw {
		rec, err := codec.DecodeRecord([]byte(data))
		if err != nil {
			return nil, fmt.Errorf("%w: member %s: %v", ErrSerialization, id, err)
		}
		table[id] = rec
	}
	return table, nil
}

// SaveAll writes the snapshot into a staging hash and renames it over the
// live key inside MULTI/EXEC, so readers see either the old or the new table.
func (s *ProgressStore) SaveAll(ctx context.Context, table progression.Table) error {
	fields := make(map[string]any, len(table))
	for id, rec := range table {
		data, err := codec.EncodeRecord(rec)
		if err != nil {
			return fmt.Errorf("%w: member %s: %v", ErrSerialization, id, err)
		}
		fields[id] = data
	}

	staging := s.key + ":staging"
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(fields) == 0 {
			pipe.Del(ctx, s.key)
			return nil
		}
		pipe.Del(ctx, staging)
		pipe.HSet(ctx, staging, fields)
		pipe.Rename(ctx, staging, s.key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: save %s: %w", s.key, err)
	}
	return nil
}
