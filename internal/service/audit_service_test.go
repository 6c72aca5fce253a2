package service

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxrelay/fluxgate/internal/model"
	"github.com/fluxrelay/fluxgate/internal/pkg/logger"
	"github.com/fluxrelay/fluxgate/internal/repository"
)

type recordingSink struct {
	mu     sync.Mutex
	events []*model.AuditEvent
	err    error
	calls  atomic.Int32
	block  chan struct{}
}

func (r *recordingSink) Name() string { return "recording" }

func (r *recordingSink) Insert(_ context.Context, e *model.AuditEvent) error {
	r.calls.Add(1)
	if r.block != nil {
		<-r.block
	}
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingSink) snapshot() []*model.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*model.AuditEvent(nil), r.events...)
}

type panickingSink struct{}

func (panickingSink) Name() string { return "panics" }
func (panickingSink) Insert(context.Context, *model.AuditEvent) error {
	panic("sink exploded")
}

func newTestAudit(t *testing.T, cfg AuditConfig, sinks ...AuditSink) *AuditService {
	t.Helper()
	svc, err := NewAuditService(cfg, logger.Discard(), sinks...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close(context.Background()) })
	return svc
}

func TestAuditServiceDeliversAndFillsDefaults(t *testing.T) {
	sink := &recordingSink{}
	svc := newTestAudit(t, AuditConfig{}, sink)

	svc.Log(&model.AuditEvent{EventType: "x", RequestID: "r1"})
	require.NoError(t, svc.Close(context.Background()))

	events := sink.snapshot()
	require.Len(t, events, 1)
	assert.NotEmpty(t, events[0].ID)
	assert.False(t, events[0].Timestamp.IsZero())
	assert.NotNil(t, events[0].Metadata)
}

func TestAuditServiceFailingSinkIsSwallowed(t *testing.T) {
	failing := &recordingSink{err: errors.New("db down")}
	healthy := &recordingSink{}
	svc := newTestAudit(t, AuditConfig{Workers: 1, BreakerFailures: 2, BreakerTimeout: time.Hour}, failing, healthy)

	for i := 0; i < 5; i++ {
		assert.NotPanics(t, func() { svc.Log(&model.AuditEvent{EventType: "x"}) })
	}
	require.NoError(t, svc.Close(context.Background()))

	assert.Len(t, healthy.snapshot(), 5)
	// The breaker opens after two consecutive failures and stops calling.
	assert.Equal(t, int32(2), failing.calls.Load())
}

func TestAuditServicePanickingSinkDoesNotStopWorkers(t *testing.T) {
	healthy := &recordingSink{}
	svc := newTestAudit(t, AuditConfig{Workers: 1}, panickingSink{}, healthy)

	svc.Log(&model.AuditEvent{EventType: "a"})
	svc.Log(&model.AuditEvent{EventType: "b"})
	require.NoError(t, svc.Close(context.Background()))

	assert.Len(t, healthy.snapshot(), 2)
}

func TestAuditServiceDropsWhenQueueFull(t *testing.T) {
	sink := &recordingSink{block: make(chan struct{})}
	svc := newTestAudit(t, AuditConfig{BufferSize: 1, Workers: 1}, sink)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			svc.Log(&model.AuditEvent{EventType: "x"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Log blocked on a full queue")
	}
	close(sink.block)
	require.NoError(t, svc.Close(context.Background()))
	assert.Less(t, len(sink.snapshot()), 50)
}

func TestAuditServiceLogAfterClose(t *testing.T) {
	svc := newTestAudit(t, AuditConfig{})
	require.NoError(t, svc.Close(context.Background()))
	assert.NotPanics(t, func() { svc.Log(&model.AuditEvent{EventType: "late"}) })
	assert.NoError(t, svc.Close(context.Background()))

	var nilSvc *AuditService
	assert.NotPanics(t, func() { nilSvc.Log(&model.AuditEvent{}) })
}

func TestAuditServiceWritesJSONL(t *testing.T) {
	dir := t.TempDir()
	svc := newTestAudit(t, AuditConfig{LogDir: dir})

	svc.Log(&model.AuditEvent{EventType: "file", RequestID: "r-42"})
	require.NoError(t, svc.Close(context.Background()))

	matches, err := filepath.Glob(filepath.Join(dir, "audit-*.jsonl"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	f, err := os.Open(matches[0])
	require.NoError(t, err)
	defer f.Close()
	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan())
	var e model.AuditEvent
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
	assert.Equal(t, "r-42", e.RequestID)
}

func TestAuditServiceListFromBuffer(t *testing.T) {
	svc := newTestAudit(t, AuditConfig{RingSize: 3})

	for _, tenant := range []string{"c1", "c2", "c1", "c1"} {
		svc.Log(&model.AuditEvent{EventType: "x", TenantID: tenant})
	}

	events, err := svc.List(context.Background(), repository.AuditFilter{TenantID: "c1"})
	require.NoError(t, err)
	// Ring of three holds c2, c1, c1.
	assert.Len(t, events, 2)
}

func TestEmittersPopulateEvents(t *testing.T) {
	sink := &recordingSink{}
	svc := newTestAudit(t, AuditConfig{Workers: 1}, sink)
	info := RequestInfo{RequestID: "r1", ActorType: model.ActorUser, ActorID: "u1", Method: "DELETE", Path: "/projects/p1"}

	svc.AuthorizationDecided(info, "project", "p1", "delete", false)
	svc.AuthenticationFailed(RequestInfo{RequestID: "r2"}, "bearer", "Invalid token")
	svc.DataAccess(info, "read", "project", "p1", nil)
	svc.RateLimitChecked(info, false, 100, 0, model.TierFree)
	require.NoError(t, svc.Close(context.Background()))

	events := sink.snapshot()
	require.Len(t, events, 4)

	deny := events[0]
	assert.Equal(t, model.CategorySecurity, deny.EventCategory)
	assert.Equal(t, model.SeverityHigh, deny.Severity)
	assert.Equal(t, model.ResultFailure, deny.Result)
	assert.Equal(t, "p1", deny.ResourceID)

	authn := events[1]
	assert.Equal(t, model.ActorAnonymous, authn.ActorType)
	assert.Equal(t, model.SeverityMedium, authn.Severity)

	access := events[2]
	assert.Equal(t, model.CategoryData, access.EventCategory)
	assert.Equal(t, model.SeverityLow, access.Severity)

	limited := events[3]
	assert.Equal(t, model.SeverityHigh, limited.Severity)
	assert.Equal(t, "free", limited.Metadata["tier"])
}
