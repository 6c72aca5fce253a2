package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/fluxrelay/fluxgate/internal/model"
	"github.com/fluxrelay/fluxgate/internal/pkg/logger"
	"github.com/fluxrelay/fluxgate/internal/pkg/metrics"
	"github.com/fluxrelay/fluxgate/internal/repository"
)

// AuditSink persists audit events. Sinks may be slow or failing; the
// service never lets either reach the request path.
type AuditSink interface {
	Name() string
	Insert(ctx context.Context, e *model.AuditEvent) error
}

// AuditLister is implemented by sinks that can serve listings.
type AuditLister interface {
	List(ctx context.Context, f repository.AuditFilter) ([]*model.AuditEvent, error)
}

type AuditConfig struct {
	BufferSize      int
	Workers         int
	RingSize        int
	LogDir          string
	WriteTimeout    time.Duration
	BreakerFailures int
	BreakerTimeout  time.Duration
}

func (c *AuditConfig) defaults() {
	if c.BufferSize <= 0 {
		c.BufferSize = 1000
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.RingSize <= 0 {
		c.RingSize = 1000
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.BreakerFailures <= 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = 30 * time.Second
	}
}

type guardedSink struct {
	sink    AuditSink
	breaker *gobreaker.CircuitBreaker
}

// AuditService fans events out to its sinks from a bounded queue.
// Log never blocks and never fails; when the queue is full the event is
// dropped and counted.
type AuditService struct {
	cfg    AuditConfig
	log    *slog.Logger
	sinks  []guardedSink
	lister AuditLister
	buffer *auditBuffer
	file   *os.File

	mu     sync.RWMutex
	closed bool
	queue  chan *model.AuditEvent
	wg     sync.WaitGroup

	dropWarn rate.Sometimes
}

func NewAuditService(cfg AuditConfig, log *slog.Logger, sinks ...AuditSink) (*AuditService, error) {
	cfg.defaults()
	svc := &AuditService{
		cfg:      cfg,
		log:      logger.OrDefault(log).With("component", "audit"),
		buffer:   newAuditBuffer(cfg.RingSize),
		queue:    make(chan *model.AuditEvent, cfg.BufferSize),
		dropWarn: rate.Sometimes{Interval: 10 * time.Second},
	}

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, err
		}
		filename := filepath.Join(cfg.LogDir, "audit-"+time.Now().Format("2006-01-02")+".jsonl")
		f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		svc.file = f
		sinks = append(sinks, &fileSink{enc: json.NewEncoder(f)})
	}

	for _, s := range sinks {
		if s == nil {
			continue
		}
		svc.sinks = append(svc.sinks, guardedSink{sink: s, breaker: svc.newBreaker(s.Name())})
		if l, ok := s.(AuditLister); ok && svc.lister == nil {
			svc.lister = l
		}
	}

	for i := 0; i < cfg.Workers; i++ {
		svc.wg.Add(1)
		go svc.worker()
	}
	return svc, nil
}

func (s *AuditService) newBreaker(name string) *gobreaker.CircuitBreaker {
	threshold := uint32(s.cfg.BreakerFailures)
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "audit-" + name,
		MaxRequests: 1,
		Timeout:     s.cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.log.Warn("audit sink breaker state change", "sink", name, "from", from.String(), "to", to.String())
		},
	})
}

// Log enqueues e. ID and Timestamp are filled when empty.
func (s *AuditService) Log(e *model.AuditEvent) {
	if s == nil || e == nil {
		return
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}
	s.buffer.Add(e)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		metrics.AuditEvents.WithLabelValues("dropped", "queue").Inc()
		return
	}
	select {
	case s.queue <- e:
		metrics.AuditEvents.WithLabelValues("queued", "queue").Inc()
	default:
		metrics.AuditEvents.WithLabelValues("dropped", "queue").Inc()
		s.dropWarn.Do(func() {
			s.log.Warn("audit queue full, dropping events", "capacity", cap(s.queue))
		})
	}
}

func (s *AuditService) worker() {
	defer s.wg.Done()
	for e := range s.queue {
		s.persist(e)
	}
}

func (s *AuditService) persist(e *model.AuditEvent) {
	for _, g := range s.sinks {
		name := g.sink.Name()
		_, err := g.breaker.Execute(func() (any, error) {
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
			defer cancel()
			return nil, s.insert(ctx, g.sink, e)
		})
		switch {
		case err == nil:
			metrics.AuditEvents.WithLabelValues("persisted", name).Inc()
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			metrics.AuditEvents.WithLabelValues("skipped", name).Inc()
		default:
			metrics.AuditEvents.WithLabelValues("failed", name).Inc()
			s.log.Error("audit sink write failed",
				"sink", name,
				"event_id", e.ID,
				"request_id", e.RequestID,
				"error", err.Error(),
			)
		}
	}
}

// insert converts a sink panic into an error so one bad sink cannot stop a
// worker.
func (s *AuditService) insert(ctx context.Context, sink AuditSink, e *model.AuditEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("audit sink panic: %v", r)
		}
	}()
	return sink.Insert(ctx, e)
}

// List returns recent events, newest first. The listing sink is preferred;
// the in-process ring buffer serves when it is absent or failing.
func (s *AuditService) List(ctx context.Context, f repository.AuditFilter) ([]*model.AuditEvent, error) {
	if s.lister != nil {
		events, err := s.lister.List(ctx, f)
		if err == nil {
			return events, nil
		}
		logger.LogError(ctx, s.log, err, "audit listing failed, using buffer")
	}
	return s.buffer.List(f), nil
}

// Close stops intake and drains queued events. It returns ctx.Err() if the
// drain does not finish in time.
func (s *AuditService) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if s.file != nil {
		_ = s.file.Close()
	}
	return err
}

type fileSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func (f *fileSink) Name() string { return "file" }

func (f *fileSink) Insert(_ context.Context, e *model.AuditEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enc.Encode(e)
}

type auditBuffer struct {
	mu        sync.Mutex
	maxSize   int
	records   []*model.AuditEvent
	nextIndex int
}

func newAuditBuffer(maxSize int) *auditBuffer {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &auditBuffer{
		maxSize: maxSize,
		records: make([]*model.AuditEvent, 0, maxSize),
	}
}

func (b *auditBuffer) Add(e *model.AuditEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.records) < b.maxSize {
		b.records = append(b.records, e)
		return
	}
	b.records[b.nextIndex] = e
	b.nextIndex = (b.nextIndex + 1) % b.maxSize
}

func (b *auditBuffer) List(f repository.AuditFilter) []*model.AuditEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	limit := f.Limit
	if limit <= 0 || limit > b.maxSize {
		limit = b.maxSize
	}
	results := make([]*model.AuditEvent, 0, limit)
	total := len(b.records)
	for i := 0; i < total; i++ {
		idx := (b.nextIndex + total - 1 - i) % total
		e := b.records[idx]
		if e == nil || !f.Match(e) {
			continue
		}
		results = append(results, e)
		if len(results) >= limit {
			break
		}
	}
	return results
}
