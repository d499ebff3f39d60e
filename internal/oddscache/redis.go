package oddscache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisMirror writes snapshots through to Redis so other processes can read
// the current board. Keys: odds:snapshot:{game_id}.
type RedisMirror struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisMirror wires a Redis client into a mirror.
func NewRedisMirror(client *redis.Client, ttl time.Duration) *RedisMirror {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisMirror{client: client, ttl: ttl}
}

// Store pipelines one SET per snapshot.
func (m *RedisMirror) Store(ctx context.Context, snapshots []Snapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	pipe := m.client.Pipeline()
	for _, snap := range snapshots {
		data, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("marshal snapshot %s: %w", snap.GameID, err)
		}
		pipe.Set(ctx, SnapshotKey(snap.GameID), data, m.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline exec: %w", err)
	}
	return nil
}

// Close releases the client.
func (m *RedisMirror) Close() error {
	return m.client.Close()
}

// SnapshotKey is the Redis key of a game's snapshot.
func SnapshotKey(gameID string) string {
	return "odds:snapshot:" + gameID
}

var _ Mirror = (*RedisMirror)(nil)
