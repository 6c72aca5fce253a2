package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxrelay/fluxgate/internal/model"
)

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestRedisAuditSinkTrimsList(t *testing.T) {
	client, mr := newTestRedis(t)
	sink := NewRedisAuditSink(client, "audit", 3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, sink.Insert(ctx, &model.AuditEvent{
			ID:        fmt.Sprintf("e%d", i),
			EventType: "data_access",
			Timestamp: time.Now(),
		}))
	}

	items, err := mr.List("audit")
	require.NoError(t, err)
	assert.Len(t, items, 3)

	events, err := sink.List(ctx, AuditFilter{})
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "e4", events[0].ID)
}

func TestRedisAuditSinkFilters(t *testing.T) {
	client, _ := newTestRedis(t)
	sink := NewRedisAuditSink(client, "", 0)
	ctx := context.Background()

	require.NoError(t, sink.Insert(ctx, &model.AuditEvent{ID: "a", TenantID: "c1", EventCategory: model.CategorySecurity}))
	require.NoError(t, sink.Insert(ctx, &model.AuditEvent{ID: "b", TenantID: "c2", EventCategory: model.CategorySecurity}))
	require.NoError(t, sink.Insert(ctx, &model.AuditEvent{ID: "c", TenantID: "c1", EventCategory: model.CategoryData}))

	events, err := sink.List(ctx, AuditFilter{TenantID: "c1", Category: model.CategorySecurity})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "a", events[0].ID)
}

func TestRedisAuditSinkUnavailable(t *testing.T) {
	client, mr := newTestRedis(t)
	sink := NewRedisAuditSink(client, "audit", 10)
	mr.Close()

	err := sink.Insert(context.Background(), &model.AuditEvent{ID: "x"})
	assert.Error(t, err)
}
