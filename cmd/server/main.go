package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fluxrelay/fluxgate/internal/auth"
	"github.com/fluxrelay/fluxgate/internal/authz"
	"github.com/fluxrelay/fluxgate/internal/config"
	"github.com/fluxrelay/fluxgate/internal/handler"
	"github.com/fluxrelay/fluxgate/internal/middleware"
	"github.com/fluxrelay/fluxgate/internal/model"
	"github.com/fluxrelay/fluxgate/internal/pkg/logger"
	"github.com/fluxrelay/fluxgate/internal/ratelimit"
	"github.com/fluxrelay/fluxgate/internal/repository"
	"github.com/fluxrelay/fluxgate/internal/router"
	"github.com/fluxrelay/fluxgate/internal/service"
)

// store is everything the services, authenticators and authorizer read.
// Both repository.MemoryStore and repository.PostgresStore satisfy it.
type store interface {
	service.ProjectStore
	service.AgentStore
	service.TelemetryStore
	service.TransferStore
	service.CompanyStore
	service.PreferenceStore
	auth.UserStore
	auth.AgentStore
	auth.MembershipStore
	authz.GrantStore
}

type cleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.Init(cfg.Log.Level)
	lg := logger.Get()

	if cfg.Auth.JWTSecret == "" {
		log.Fatal("auth.jwt_secret is required (FLUXGATE_AUTH_JWT_SECRET)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Initialize Persistence
	// Primary store (Postgres > Memory)
	var (
		st          store = repository.NewMemoryStore()
		sinks       []service.AuditSink
		idempotency middleware.IdempotencyStore = middleware.NewInMemIdempotencyStore(time.Duration(cfg.Database.IdempotencyRetentionHours) * time.Hour)
		pgAudit     *repository.PostgresAuditSink
		pgIdem      cleaner
		checks      = map[string]handler.Pinger{}
	)
	if cfg.Database.DSN != "" {
		db, err := repository.NewDB(cfg)
		if err != nil {
			log.Fatalf("Failed to connect to PostgreSQL: %v", err)
		}
		pg := repository.NewPostgresStore(db)
		pgAudit = repository.NewPostgresAuditSink(db)
		pgIdemStore := repository.NewPostgresIdempotencyStore(db)
		for _, m := range []interface{ Migrate(context.Context) error }{pg, pgAudit, pgIdemStore} {
			if err := m.Migrate(ctx); err != nil {
				log.Fatalf("Failed to migrate schema: %v", err)
			}
		}
		st, idempotency, pgIdem = pg, pgIdemStore, pgIdemStore
		sinks = append(sinks, pgAudit)
		checks["postgres"] = handler.PingFunc(func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		})
		logger.Info("✅ Connected to PostgreSQL")
	} else {
		logger.Warn("⚠️ No database configured, using in-memory store")
	}

	// Redis: audit list sink, and idempotency when Postgres is absent
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient, err = repository.NewRedisClient(cfg)
		if err == nil {
			logger.Info("✅ Connected to Redis")
			sinks = append(sinks, repository.NewRedisAuditSink(redisClient, cfg.Redis.AuditListKey, cfg.Redis.AuditListMax))
			if pgIdem == nil {
				idempotency = repository.NewRedisIdempotencyStore(redisClient, time.Duration(cfg.Redis.IdempotencyTTLSeconds)*time.Second)
			}
			checks["redis"] = handler.PingFunc(func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			})
		} else {
			logger.Error("⚠️ Failed to connect to Redis, audit list sink disabled", "error", err)
			redisClient = nil
		}
	}

	// 3. Initialize Core Services
	auditSvc, err := service.NewAuditService(service.AuditConfig{
		BufferSize:      cfg.Audit.BufferSize,
		Workers:         cfg.Audit.Workers,
		RingSize:        cfg.Audit.RingSize,
		LogDir:          cfg.Audit.LogDir,
		BreakerFailures: cfg.Audit.BreakerFailures,
		BreakerTimeout:  time.Duration(cfg.Audit.BreakerTimeoutSeconds) * time.Second,
	}, lg, sinks...)
	if err != nil {
		log.Fatalf("Failed to initialize audit service: %v", err)
	}

	limiter := ratelimit.New(tierProfiles(cfg), ratelimit.WithLogger(lg))
	limiter.Start(ctx, time.Duration(cfg.RateLimit.SweepIntervalSeconds)*time.Second)

	var signer service.URLSigner
	if cfg.Storage.Bucket != "" {
		s3Signer, err := service.NewS3Signer(ctx, service.S3SignerConfig{
			Bucket:    cfg.Storage.Bucket,
			Region:    cfg.Storage.Region,
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
		})
		if err != nil {
			log.Fatalf("Failed to initialize object storage: %v", err)
		}
		signer = s3Signer
	} else {
		logger.Warn("⚠️ No storage bucket configured, transfer URLs disabled")
	}

	tokens := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, time.Duration(cfg.Auth.TokenTTLMinutes)*time.Minute)
	agentAuth := auth.NewAgentAuthenticator(st)
	az := authz.New(st)
	predictor := service.NewHeuristicPredictor()

	// 4. Initialize Handlers & Router
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	r := router.New(router.Deps{
		Log:         lg,
		Audit:       auditSvc,
		Limiter:     limiter,
		Users:       auth.NewUserAuthenticator(tokens, st),
		Agents:      agentAuth,
		Tenants:     auth.NewTenantResolver(st),
		Idempotency: idempotency,
		CORS: middleware.CORSConfig{
			AllowedOrigins: cfg.CORS.AllowedOrigins,
			AllowedMethods: cfg.CORS.AllowedMethods,
			AllowedHeaders: cfg.CORS.AllowedHeaders,
			MaxAgeSeconds:  cfg.CORS.MaxAge,
			Development:    cfg.Server.Development(),
		},
		MetricsPath: metricsPath,
		Handlers: router.Handlers{
			Projects:  handler.NewProjectHandler(service.NewProjectService(st, az)),
			Agents:    handler.NewAgentHandler(service.NewAgentService(st, az, agentAuth)),
			Telemetry: handler.NewTelemetryHandler(service.NewTelemetryService(st, az, predictor, lg)),
			Transfers: handler.NewTransferHandler(service.NewTransferService(st, az, signer, predictor, time.Duration(cfg.Storage.URLTTLMinutes)*time.Minute)),
			Company:   handler.NewCompanyHandler(service.NewCompanyService(st, az)),
			Users:     handler.NewUserHandler(service.NewPreferenceService(st), service.NewSessionService(limiter)),
			Audit:     handler.NewAuditHandler(service.NewAuditQuery(auditSvc, az)),
			Health:    handler.NewHealthHandler(checks),
		},
	})

	// 5. Retention cleanup
	if pgAudit != nil {
		go runCleanup(ctx, cfg, pgAudit, pgIdem)
	}

	// 6. Start Server with Graceful Shutdown
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("🚀 fluxgate started", "port", cfg.Server.Port, "environment", cfg.Server.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server listen failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("🛑 Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}
	limiter.Stop()
	if err := auditSvc.Close(shutdownCtx); err != nil {
		logger.Error("Audit drain incomplete", "error", err)
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}

	logger.Info("Server exiting")
}

// tierProfiles overlays configured tiers on the built-in budgets.
func tierProfiles(cfg *config.Config) map[model.SubscriptionTier]ratelimit.Profile {
	profiles := ratelimit.DefaultProfiles()
	for name, t := range cfg.RateLimit.Tiers {
		if t.Requests <= 0 || t.WindowSeconds <= 0 {
			continue
		}
		profiles[model.SubscriptionTier(name).Normalize()] = ratelimit.Profile{Requests: t.Requests, Window: t.Window()}
	}
	return profiles
}

func runCleanup(ctx context.Context, cfg *config.Config, audit *repository.PostgresAuditSink, idem cleaner) {
	interval := time.Duration(cfg.Database.CleanupIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = time.Hour
	}
	auditRetention := time.Duration(cfg.Database.AuditRetentionDays) * 24 * time.Hour
	idemRetention := time.Duration(cfg.Database.IdempotencyRetentionHours) * time.Hour

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if auditRetention > 0 {
			n, err := audit.Cleanup(ctx, auditRetention)
			if err != nil {
				logger.LogError(ctx, nil, err, "audit cleanup failed")
			} else if n > 0 {
				logger.Info("audit cleanup", "deleted", n)
			}
		}
		if idem != nil && idemRetention > 0 {
			if err := idem.Cleanup(ctx, idemRetention); err != nil {
				logger.LogError(ctx, nil, err, "idempotency cleanup failed")
			}
		}
	}
}
