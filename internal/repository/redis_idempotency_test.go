package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisIdempotencyStoreFlow(t *testing.T) {
	client, mr := newTestRedis(t)
	store := NewRedisIdempotencyStore(client, time.Minute)
	ctx := context.Background()

	rec, hit, err := store.GetOrLock(ctx, "u1:key")
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Nil(t, rec)

	rec, hit, err = store.GetOrLock(ctx, "u1:key")
	require.NoError(t, err)
	require.True(t, hit)
	assert.True(t, rec.Processing)

	require.NoError(t, store.Save(ctx, "u1:key", 201, []byte(`{"id":"t1"}`)))
	rec, hit, err = store.GetOrLock(ctx, "u1:key")
	require.NoError(t, err)
	require.True(t, hit)
	assert.False(t, rec.Processing)
	assert.Equal(t, 201, rec.Status)
	assert.JSONEq(t, `{"id":"t1"}`, string(rec.Body))

	mr.FastForward(2 * time.Minute)
	_, hit, err = store.GetOrLock(ctx, "u1:key")
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestRedisIdempotencyStoreUnlock(t *testing.T) {
	client, _ := newTestRedis(t)
	store := NewRedisIdempotencyStore(client, 0)
	ctx := context.Background()

	_, _, err := store.GetOrLock(ctx, "k")
	require.NoError(t, err)
	require.NoError(t, store.Unlock(ctx, "k"))

	_, hit, err := store.GetOrLock(ctx, "k")
	require.NoError(t, err)
	assert.False(t, hit)
}
