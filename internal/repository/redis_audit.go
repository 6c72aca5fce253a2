package repository

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/fluxrelay/fluxgate/internal/model"
)

// RedisAuditSink keeps the most recent audit events in a capped Redis list,
// newest first.
type RedisAuditSink struct {
	client  redis.Cmdable
	listKey string
	listMax int64
}

func NewRedisAuditSink(client redis.Cmdable, listKey string, listMax int) *RedisAuditSink {
	if listKey == "" {
		listKey = "audit_events"
	}
	if listMax <= 0 {
		listMax = 10000
	}
	return &RedisAuditSink{
		client:  client,
		listKey: listKey,
		listMax: int64(listMax),
	}
}

func (r *RedisAuditSink) Name() string { return "redis" }

func (r *RedisAuditSink) Insert(ctx context.Context, e *model.AuditEvent) error {
	if e == nil {
		return nil
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, r.listKey, payload)
	pipe.LTrim(ctx, r.listKey, 0, r.listMax-1)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisAuditSink) List(ctx context.Context, f AuditFilter) ([]*model.AuditEvent, error) {
	limit := f.limit()
	fetch := int64(limit * 5)
	if fetch < 100 {
		fetch = 100
	}
	if fetch > r.listMax {
		fetch = r.listMax
	}
	items, err := r.client.LRange(ctx, r.listKey, 0, fetch-1).Result()
	if err != nil {
		return nil, err
	}
	results := make([]*model.AuditEvent, 0, limit)
	for _, raw := range items {
		var e model.AuditEvent
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			continue
		}
		if !f.Match(&e) {
			continue
		}
		results = append(results, &e)
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}
