package config

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RuntimeStore reads versioned config documents out of Redis so a running
// daemon can pick up parameter changes without a restart.
type RuntimeStore struct {
	client *redis.Client
	key    string
}

// NewRuntimeStore connects to the runtime config Redis and verifies the
// connection.
func NewRuntimeStore(rt *Runtime) (*RuntimeStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         rt.Addr,
		Password:     rt.Password,
		DB:           rt.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("runtime store connection failed: %w", err)
	}
	return &RuntimeStore{client: client, key: rt.Key}, nil
}

// NewRuntimeStoreFromClient wraps an existing client. Used by tests.
func NewRuntimeStoreFromClient(client *redis.Client, key string) *RuntimeStore {
	return &RuntimeStore{client: client, key: key}
}

// Version returns the stored config version, zero when none is published.
func (s *RuntimeStore) Version(ctx context.Context) (int64, error) {
	v, err := s.client.Get(ctx, s.key+":version").Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("runtime version: %w", err)
	}
	return v, nil
}

// Load unmarshals the stored config document into dst.
func (s *RuntimeStore) Load(ctx context.Context, dst interface{}) error {
	data, err := s.client.Get(ctx, s.key+":config").Bytes()
	if err == redis.Nil {
		return fmt.Errorf("runtime config: no document at %s:config", s.key)
	}
	if err != nil {
		return fmt.Errorf("runtime config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("runtime config: %w", err)
	}
	return nil
}

// Close releases the Redis connection.
func (s *RuntimeStore) Close() error {
	return s.client.Close()
}
