package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fluxrelay/fluxgate/internal/authz"
	"github.com/fluxrelay/fluxgate/internal/model"
	"github.com/fluxrelay/fluxgate/internal/pkg/apperrors"
	"github.com/fluxrelay/fluxgate/internal/pkg/logger"
)

type TelemetryRequest struct {
	TransferID string             `json:"transfer_id"`
	Metrics    map[string]float64 `json:"metrics" binding:"required,min=1"`
}

type TelemetryQuery struct {
	ProjectID string `form:"project_id" binding:"required"`
	Limit     int    `form:"limit" binding:"omitempty,min=1,max=500"`
}

type TelemetryResult struct {
	Record     *model.TelemetryRecord `json:"record"`
	Prediction Prediction             `json:"prediction"`
}

type TelemetryService struct {
	store     TelemetryStore
	authz     *authz.Authorizer
	predictor Predictor
	log       *slog.Logger
	now       func() time.Time
}

func NewTelemetryService(store TelemetryStore, az *authz.Authorizer, predictor Predictor, log *slog.Logger) *TelemetryService {
	return &TelemetryService{
		store:     store,
		authz:     az,
		predictor: predictor,
		log:       logger.OrDefault(log),
		now:       time.Now,
	}
}

// Record stores a sample from an agent and flags it when the anomaly model
// says so. The agent can only write to its own project.
func (s *TelemetryService) Record(ctx context.Context, agent *model.AgentPrincipal, req TelemetryRequest) (*TelemetryResult, error) {
	pred, err := s.predictor.Predict(ctx, ModelAnomaly, req.Metrics)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	rec := &model.TelemetryRecord{
		ID:         uuid.NewString(),
		AgentID:    agent.ID,
		ProjectID:  agent.ProjectID,
		TransferID: req.TransferID,
		Metrics:    req.Metrics,
		Anomaly:    pred.Value >= 1,
		RecordedAt: now,
	}
	if err := s.store.InsertTelemetry(ctx, rec); err != nil {
		return nil, apperrors.FromStore(err)
	}
	if err := s.store.TouchAgent(ctx, agent.ID, now); err != nil {
		logger.LogError(ctx, s.log, err, "failed to update agent last seen", "agent_id", agent.ID)
	}
	return &TelemetryResult{Record: rec, Prediction: pred}, nil
}

func (s *TelemetryService) List(ctx context.Context, p model.Principal, q TelemetryQuery) ([]*model.TelemetryRecord, error) {
	if err := s.authz.Require(ctx, p, model.ResourceProject, q.ProjectID, authz.CapViewTelemetry); err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	records, err := s.store.ListTelemetry(ctx, q.ProjectID, limit)
	if err != nil {
		return nil, apperrors.FromStore(err)
	}
	return records, nil
}
