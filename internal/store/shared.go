package store

import (
	"context"
	"errors"
	"sync"

	redis "github.com/redis/go-redis/v9"
)

// DefaultSharedKey is the slot the URL collaborator deposits text into.
const DefaultSharedKey = "writingtools:sharedContent"

// SharedSlot is a single-value mailbox: Put overwrites, Take reads and clears.
type SharedSlot interface {
	Put(ctx context.Context, text string) error
	Take(ctx context.Context) (string, error)
}

// RedisSlot keeps the shared value under one Redis key so other processes can deposit it.
type RedisSlot struct {
	client *redis.Client
	key    string
}

func NewRedisSlot(client *redis.Client, key string) *RedisSlot {
	if key == "" {
		key = DefaultSharedKey
	}
	return &RedisSlot{client: client, key: key}
}

func (s *RedisSlot) Put(ctx context.Context, text string) error {
	return s.client.Set(ctx, s.key, text, 0).Err()
}

// Take returns "" when the slot is empty.
func (s *RedisSlot) Take(ctx context.Context) (string, error) {
	v, err := s.client.GetDel(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}

// MemorySlot is the in-process SharedSlot used when Redis is not configured.
type MemorySlot struct {
	mu   sync.Mutex
	text string
}

func (s *MemorySlot) Put(_ context.Context, text string) error {
	s.mu.Lock()
	s.text = text
	s.mu.Unlock()
	return nil
}

func (s *MemorySlot) Take(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.text
	s.text = ""
	return v, nil
}
