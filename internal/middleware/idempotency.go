package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fluxrelay/fluxgate/internal/model"
	"github.com/fluxrelay/fluxgate/internal/pkg/apperrors"
	"github.com/fluxrelay/fluxgate/internal/pkg/logger"
	"github.com/fluxrelay/fluxgate/internal/reqctx"
)

const (
	HeaderIdempotencyKey      = "X-Idempotency-Key"
	HeaderIdempotencyReplayed = "Idempotent-Replayed"
)

type IdempotencyStore interface {
	// GetOrLock returns (record, true, nil) if the key exists, in flight or
	// completed; (nil, false, nil) if the caller now holds the lock.
	GetOrLock(ctx context.Context, key string) (*model.IdempotencyRecord, bool, error)
	Save(ctx context.Context, key string, status int, body []byte) error
	Unlock(ctx context.Context, key string) error
}

// InMemIdempotencyStore keeps records in process memory. Completed records
// expire after ttl.
type InMemIdempotencyStore struct {
	mu      sync.Mutex
	records map[string]*model.IdempotencyRecord
	ttl     time.Duration
	now     func() time.Time
}

func NewInMemIdempotencyStore(ttl time.Duration) *InMemIdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &InMemIdempotencyStore{
		records: make(map[string]*model.IdempotencyRecord),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *InMemIdempotencyStore) GetOrLock(_ context.Context, key string) (*model.IdempotencyRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if rec, ok := s.records[key]; ok && now.Sub(rec.CreatedAt) < s.ttl {
		cp := *rec
		return &cp, true, nil
	}
	s.records[key] = &model.IdempotencyRecord{Processing: true, CreatedAt: now}
	return nil, false, nil
}

func (s *InMemIdempotencyStore) Save(_ context.Context, key string, status int, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = &model.IdempotencyRecord{
		Status:    status,
		Body:      append([]byte(nil), body...),
		CreatedAt: s.now(),
	}
	return nil
}

func (s *InMemIdempotencyStore) Unlock(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

// Idempotency replays the stored response for a repeated X-Idempotency-Key.
// Keys are scoped to the principal. A request that fails or ends in a 5xx
// releases its key so the client may retry.
func Idempotency(store IdempotencyStore, log *slog.Logger) Middleware {
	log = logger.OrDefault(log)
	return func(c *gin.Context, rc *reqctx.Context, next Handler) error {
		idemKey := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))
		if idemKey == "" || rc.Principal() == nil {
			return next(c, rc)
		}
		if len(idemKey) > 255 {
			return apperrors.Validation("Invalid idempotency key", []FieldError{{Field: HeaderIdempotencyKey, Rule: "max", Param: "255"}})
		}

		ctx := c.Request.Context()
		fullKey := rc.ActorID() + ":" + idemKey
		record, hit, err := store.GetOrLock(ctx, fullKey)
		if err != nil {
			return apperrors.Server("Internal server error", err)
		}
		if hit {
			if record.Processing {
				c.AbortWithStatusJSON(http.StatusConflict, apperrors.Envelope{Error: apperrors.EnvelopeBody{
					Message: "A request with this idempotency key is in progress",
					Code:    "CONFLICT",
					Status:  http.StatusConflict,
				}})
				return nil
			}
			c.Header(HeaderIdempotencyReplayed, "true")
			c.Data(record.Status, "application/json; charset=utf-8", record.Body)
			c.Abort()
			return nil
		}

		w := &responseBodyWriter{ResponseWriter: c.Writer}
		c.Writer = w
		err = next(c, rc)
		c.Writer = w.ResponseWriter

		if err != nil || w.Status() >= http.StatusInternalServerError {
			if uerr := store.Unlock(ctx, fullKey); uerr != nil {
				logger.LogError(ctx, log, uerr, "idempotency unlock failed", "request_id", rc.RequestID)
			}
			return err
		}
		if serr := store.Save(ctx, fullKey, w.Status(), w.body); serr != nil {
			logger.LogError(ctx, log, serr, "idempotency save failed", "request_id", rc.RequestID)
		}
		return nil
	}
}

type responseBodyWriter struct {
	gin.ResponseWriter
	body []byte
}

func (w *responseBodyWriter) Write(b []byte) (int, error) {
	w.body = append(w.body, b...)
	return w.ResponseWriter.Write(b)
}

func (w *responseBodyWriter) WriteString(s string) (int, error) {
	w.body = append(w.body, s...)
	return w.ResponseWriter.WriteString(s)
}
