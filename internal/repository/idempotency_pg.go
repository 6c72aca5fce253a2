package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fluxrelay/fluxgate/internal/model"
)

type idempotencyRow struct {
	Key          string `gorm:"primaryKey"`
	StatusCode   int
	ResponseBody []byte
	Processing   bool
	CreatedAt    time.Time `gorm:"index"`
}

func (idempotencyRow) TableName() string { return "idempotency_keys" }

type PostgresIdempotencyStore struct {
	db *gorm.DB
}

func NewPostgresIdempotencyStore(db *gorm.DB) *PostgresIdempotencyStore {
	return &PostgresIdempotencyStore{db: db}
}

func (s *PostgresIdempotencyStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&idempotencyRow{})
}

func (s *PostgresIdempotencyStore) GetOrLock(ctx context.Context, key string) (*model.IdempotencyRecord, bool, error) {
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&idempotencyRow{
		Key:        key,
		Processing: true,
		CreatedAt:  time.Now().UTC(),
	})
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected > 0 {
		return nil, false, nil
	}

	var row idempotencyRow
	err := s.db.WithContext(ctx).Where("key = ?", key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &model.IdempotencyRecord{
		Status:     row.StatusCode,
		Body:       row.ResponseBody,
		CreatedAt:  row.CreatedAt,
		Processing: row.Processing,
	}, true, nil
}

func (s *PostgresIdempotencyStore) Save(ctx context.Context, key string, status int, body []byte) error {
	return s.db.WithContext(ctx).Model(&idempotencyRow{}).Where("key = ?", key).Updates(map[string]any{
		"status_code":   status,
		"response_body": body,
		"processing":    false,
	}).Error
}

func (s *PostgresIdempotencyStore) Unlock(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Where("key = ?", key).Delete(&idempotencyRow{}).Error
}

func (s *PostgresIdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) error {
	if olderThan <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	return s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&idempotencyRow{}).Error
}
