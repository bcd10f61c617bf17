package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySlotTakeClears(t *testing.T) {
	ctx := context.Background()
	s := &MemorySlot{}

	v, err := s.Take(ctx)
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, s.Put(ctx, "first"))
	require.NoError(t, s.Put(ctx, "second"))
	v, err = s.Take(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", v)

	v, err = s.Take(ctx)
	require.NoError(t, err)
	assert.Empty(t, v)
}

func redisForTest(t *testing.T) string {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	return url
}

func TestRedisSlot(t *testing.T) {
	ctx := context.Background()
	c, err := Connect(ctx, redisForTest(t))
	require.NoError(t, err)
	defer c.Close()

	s := NewRedisSlot(c, "writingtools:test:"+uuid.NewString())
	require.NoError(t, s.Put(ctx, "shared text"))
	v, err := s.Take(ctx)
	require.NoError(t, err)
	assert.Equal(t, "shared text", v)

	v, err = s.Take(ctx)
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestRedisStatusRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, err := Connect(ctx, redisForTest(t))
	require.NoError(t, err)
	defer c.Close()

	s := NewRedisStatus(c, time.Minute)
	id := uuid.NewString()
	_, ok, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, s.Set(ctx, id, Status{
		State:     "failed",
		Operation: "proofread",
		Provider:  "gemini",
		Message:   "API key is missing",
		Start:     &now,
		Metadata:  map[string]interface{}{"kind": "text"},
	}))

	got, ok, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "failed", got.State)
	assert.Equal(t, "gemini", got.Provider)
	require.NotNil(t, got.Start)
	assert.True(t, now.Equal(*got.Start))
	assert.Nil(t, got.End)
	assert.Equal(t, "text", got.Metadata["kind"])

	ttl, err := c.TTL(ctx, s.key(id)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestConnectRejectsBadURL(t *testing.T) {
	_, err := Connect(context.Background(), "not a url")
	assert.Error(t, err)
}
