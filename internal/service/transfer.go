package service

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fluxrelay/fluxgate/internal/authz"
	"github.com/fluxrelay/fluxgate/internal/model"
	"github.com/fluxrelay/fluxgate/internal/pkg/apperrors"
)

type CreateTransferRequest struct {
	ProjectID string `json:"project_id" binding:"required"`
	FileName  string `json:"file_name" binding:"required,min=1,max=255"`
	SizeBytes int64  `json:"size_bytes" binding:"required,min=1"`
}

type TransferURLRequest struct {
	TransferID string `json:"transfer_id" binding:"required"`
}

type TransferQuery struct {
	ProjectID string `form:"project_id" binding:"required"`
}

type OptimizeRequest struct {
	BandwidthMbps      float64 `json:"bandwidth_mbps" binding:"omitempty,min=0"`
	PacketLossRate     float64 `json:"packet_loss_rate" binding:"omitempty,min=0,max=1"`
	LatencyMs          float64 `json:"latency_ms" binding:"omitempty,min=0"`
	TotalBandwidthMbps float64 `json:"total_bandwidth_mbps" binding:"omitempty,min=0"`
}

type SignedURL struct {
	TransferID string    `json:"transfer_id"`
	URL        string    `json:"url"`
	Method     string    `json:"method"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type Optimization struct {
	TransferID  string     `json:"transfer_id"`
	Performance Prediction `json:"performance"`
	Allocation  Prediction `json:"allocation"`
}

// URLSigner issues time-limited object storage URLs.
type URLSigner interface {
	PresignUpload(ctx context.Context, key string, ttl time.Duration) (string, error)
	PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error)
}

type TransferService struct {
	store     TransferStore
	authz     *authz.Authorizer
	signer    URLSigner
	predictor Predictor
	urlTTL    time.Duration
	now       func() time.Time
}

func NewTransferService(store TransferStore, az *authz.Authorizer, signer URLSigner, predictor Predictor, urlTTL time.Duration) *TransferService {
	if urlTTL <= 0 {
		urlTTL = 15 * time.Minute
	}
	return &TransferService{
		store:     store,
		authz:     az,
		signer:    signer,
		predictor: predictor,
		urlTTL:    urlTTL,
		now:       time.Now,
	}
}

func (s *TransferService) List(ctx context.Context, p model.Principal, q TransferQuery) ([]*model.Transfer, error) {
	if err := s.authz.Require(ctx, p, model.ResourceProject, q.ProjectID, authz.CapRead); err != nil {
		return nil, err
	}
	transfers, err := s.store.ListTransfers(ctx, q.ProjectID)
	if err != nil {
		return nil, apperrors.FromStore(err)
	}
	return transfers, nil
}

// Create registers a pending transfer. The creator gets an admin grant on
// it, which covers upload and download.
func (s *TransferService) Create(ctx context.Context, user *model.UserPrincipal, req CreateTransferRequest) (*model.Transfer, error) {
	if err := s.authz.Require(ctx, user, model.ResourceProject, req.ProjectID, authz.CapCreateTransfer); err != nil {
		return nil, err
	}
	id := uuid.NewString()
	t := &model.Transfer{
		ID:         id,
		ProjectID:  req.ProjectID,
		FileName:   path.Base(strings.TrimSpace(req.FileName)),
		SizeBytes:  req.SizeBytes,
		StorageKey: path.Join("projects", req.ProjectID, "transfers", id, path.Base(req.FileName)),
		Status:     model.TransferPending,
		CreatedBy:  user.ID,
		CreatedAt:  s.now().UTC(),
	}
	owner := &model.PermissionGrant{
		ResourceType: model.ResourceTransfer,
		ResourceID:   t.ID,
		PrincipalID:  user.ID,
		Role:         model.RoleAdmin,
		Permissions:  map[string]bool{},
	}
	if err := s.store.CreateTransfer(ctx, t, owner); err != nil {
		return nil, apperrors.FromStore(err)
	}
	return t, nil
}

func (s *TransferService) UploadURL(ctx context.Context, p model.Principal, req TransferURLRequest) (*SignedURL, error) {
	return s.sign(ctx, p, req.TransferID, authz.CapUpload)
}

func (s *TransferService) DownloadURL(ctx context.Context, p model.Principal, req TransferURLRequest) (*SignedURL, error) {
	return s.sign(ctx, p, req.TransferID, authz.CapDownload)
}

func (s *TransferService) sign(ctx context.Context, p model.Principal, transferID string, c authz.Capability) (*SignedURL, error) {
	if err := s.authz.Require(ctx, p, model.ResourceTransfer, transferID, c); err != nil {
		return nil, err
	}
	t, err := s.store.GetTransfer(ctx, transferID)
	if err != nil {
		return nil, apperrors.FromStore(err)
	}
	if s.signer == nil {
		return nil, apperrors.Server("Object storage is not configured", nil)
	}

	var (
		url    string
		method string
	)
	if c == authz.CapUpload {
		url, err = s.signer.PresignUpload(ctx, t.StorageKey, s.urlTTL)
		method = "PUT"
	} else {
		url, err = s.signer.PresignDownload(ctx, t.StorageKey, s.urlTTL)
		method = "GET"
	}
	if err != nil {
		return nil, apperrors.Server("Failed to sign storage URL", err)
	}
	return &SignedURL{
		TransferID: t.ID,
		URL:        url,
		Method:     method,
		ExpiresAt:  s.now().UTC().Add(s.urlTTL),
	}, nil
}

// Optimize runs the performance and allocation models for a transfer.
func (s *TransferService) Optimize(ctx context.Context, p model.Principal, transferID string, req OptimizeRequest) (*Optimization, error) {
	if err := s.authz.Require(ctx, p, model.ResourceTransfer, transferID, authz.CapRead); err != nil {
		return nil, err
	}
	t, err := s.store.GetTransfer(ctx, transferID)
	if err != nil {
		return nil, apperrors.FromStore(err)
	}
	features := map[string]float64{
		"bandwidth_mbps":   req.BandwidthMbps,
		"packet_loss_rate": req.PacketLossRate,
		"latency_ms":       req.LatencyMs,
		"bandwidth_demand": req.BandwidthMbps,
		"size_bytes":       float64(t.SizeBytes),
	}
	if req.TotalBandwidthMbps > 0 {
		features["total_bandwidth_mbps"] = req.TotalBandwidthMbps
	}
	perf, err := s.predictor.Predict(ctx, ModelPerformance, features)
	if err != nil {
		return nil, err
	}
	alloc, err := s.predictor.Predict(ctx, ModelResourceAllocation, features)
	if err != nil {
		return nil, err
	}
	return &Optimization{TransferID: t.ID, Performance: perf, Allocation: alloc}, nil
}
