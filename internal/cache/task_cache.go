package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// SnapshotTTL bounds how long a task snapshot outlives its last write.
const SnapshotTTL = time.Hour

// TaskCache holds JSON task snapshots so status polls skip the database.
type TaskCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewTaskCache(client *redis.Client) *TaskCache {
	return &TaskCache{client: client, ttl: SnapshotTTL}
}

// Get returns nil, nil on a miss.
func (c *TaskCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return val, nil
}

func (c *TaskCache) Set(ctx context.Context, key string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return c.client.Set(ctx, key, payload, c.ttl).Err()
}

func (c *TaskCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

func TaskKey(taskID string) string {
	return "analysis:task:" + taskID
}
