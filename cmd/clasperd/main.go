// Command clasperd runs the Clasper control-plane HTTP server: the
// Execution Decision API, Decision API, Tool Authorization API, Telemetry
// Ingest API, Audit API, and Policy API from spec §6, wired to real C1-C11
// components.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/clasper-io/clasper/pkg/adapter"
	"github.com/clasper-io/clasper/pkg/api"
	"github.com/clasper-io/clasper/pkg/approval"
	"github.com/clasper-io/clasper/pkg/audit"
	"github.com/clasper-io/clasper/pkg/auth"
	"github.com/clasper-io/clasper/pkg/config"
	"github.com/clasper-io/clasper/pkg/decision"
	"github.com/clasper-io/clasper/pkg/identity"
	"github.com/clasper-io/clasper/pkg/observability"
	"github.com/clasper-io/clasper/pkg/policy"
	"github.com/clasper-io/clasper/pkg/ratelimit"
	"github.com/clasper-io/clasper/pkg/risk"
	"github.com/clasper-io/clasper/pkg/telemetry"
	"github.com/clasper-io/clasper/pkg/tooltoken"
	"github.com/clasper-io/clasper/pkg/trace"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.Load()

	metrics, err := observability.New(&observability.Config{
		ServiceName:    "clasperd",
		ServiceVersion: "0.1.0",
		Environment:    cfg.Env,
		SampleRate:     1.0,
	})
	if err != nil {
		slog.Error("failed to init observability", "error", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metrics.Shutdown(ctx)
	}()

	level := slog.LevelInfo
	if cfg.LogLevel == "DEBUG" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// C1: identity. Operator tokens verify against a JWKS endpoint when
	// configured; otherwise only adapter/backend HMAC credentials work.
	var operatorKeys identity.KeySet
	if cfg.OpsOIDCJWKSURL != "" {
		operatorKeys = identity.NewJWKSKeySet(cfg.OpsOIDCJWKSURL, 15*time.Minute)
	}
	validator := auth.NewJWTValidator([]byte(cfg.AdapterJWTSecret), []byte(cfg.AgentJWTSecret), operatorKeys)
	devBypass := auth.DevBypassConfig{
		Enabled:            cfg.DevNoAuth,
		NonProduction:      cfg.Env != "production",
		NoExternalProvider: cfg.OpsOIDCJWKSURL == "",
	}

	// C11: adapter registry.
	adapters := adapter.NewInMemoryRegistry()

	// C8: hash-chained audit log, shared across C6/C7/C10.
	auditStore := audit.NewStore()
	auditSink := audit.NewSink(auditStore)

	// C9: trace store.
	traceStore := trace.NewStore()

	// C4: policy engine, seeded from POLICY_PATH if configured.
	policyEngine, err := policy.NewEngine()
	if err != nil {
		logger.Error("failed to init policy engine", "error", err)
		return 1
	}
	if cfg.PolicyPath != "" {
		if err := policyEngine.LoadBootstrapDir(cfg.PolicyPath); err != nil {
			logger.Error("failed to load bootstrap policies", "error", err, "path", cfg.PolicyPath)
			return 1
		}
	}

	// C5: risk scorer with spec §4.5's default weights.
	scorer := risk.NewScorer(risk.DefaultWeights())

	// C7: async approval queue.
	approvalStore := approval.NewInMemoryStore()
	approvalSecret := []byte(cfg.DecisionTokenSecret)
	approvalSvc := approval.NewService(approvalStore, auditSink, approvalSecret)

	sweeperCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	go approval.NewSweeper(approvalStore, auditSink, time.Minute).Run(sweeperCtx)

	// C3: tool authorization tokens.
	toolTokenStore := tooltoken.NewInMemoryStore()
	toolTokenSvc := tooltoken.NewService(toolTokenStore, []byte(cfg.ToolTokenSecret))

	// C6: execution decision orchestrator, composing C11/C5/C4/C7/C8.
	orchestrator := decision.New(
		adapters,
		policyEngine,
		scorer,
		decisionApprovalAdapter{approvalSvc},
		auditSink,
		decision.StaticDefaults(decision.DefaultTenantDefaults()),
	)
	orchestrator.Metrics = metrics

	// C10: telemetry ingest, with an optional Redis idempotency pre-check.
	idempotency := telemetry.IdempotencyStore(telemetry.NewMemoryIdempotencyStore())
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		idempotency = telemetry.NewRedisPrecheck(rdb, time.Hour, idempotency)
	}
	telemetrySvc := telemetry.NewService(
		adapters,
		traceStore,
		auditSink,
		nil, // no metering sink wired by default; attach via metering.NewPostgresMeter in production
		telemetry.NewViolationStore(),
		idempotency,
		telemetry.StaticMode(cfg.TelemetrySignatureMode),
		cfg.TelemetryMaxSkewSeconds,
	)

	services := &api.ClasperServices{
		Orchestrator: orchestrator,
		Approvals:    approvalSvc,
		ToolTokens:   toolTokenSvc,
		Telemetry:    telemetrySvc,
		Audit:        auditStore,
		Policies:     policyEngine,
		Traces:       traceStore,
		Adapters:     adapters,
	}

	mux := http.NewServeMux()
	registerRoutes(mux, services, scorer)

	// C1 backpressure: per-actor token-bucket rate limiting, spec §5.
	// Redis-backed when REDIS_ADDR is set so limits hold across replicas;
	// in-memory otherwise.
	var limiterStore ratelimit.Store
	if cfg.RedisAddr != "" {
		limiterStore = ratelimit.NewRedisStore(cfg.RedisAddr, "", 0)
	} else {
		limiterStore = ratelimit.NewInMemoryStore()
	}
	limitPolicy := ratelimit.Policy{RPM: cfg.RateLimitRPM, Burst: cfg.RateLimitBurst}

	handler := auth.NewMiddleware(validator, devBypass)(auth.RateLimitMiddleware(limiterStore, limitPolicy)(mux))

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("clasperd listening", "port", cfg.Port)
		serveErr <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			return 1
		}
	case <-sigCh:
		logger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", "error", err)
			return 1
		}
	}

	return 0
}

// registerRoutes binds spec §6's External Interfaces onto mux. Path
// parameters are extracted with Go 1.22's ServeMux patterns.
func registerRoutes(mux *http.ServeMux, services *api.ClasperServices, scorer *risk.Scorer) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("POST /v1/executions/decide", services.HandleExecutionDecision)

	mux.HandleFunc("GET /v1/decisions/{decision_id}", func(w http.ResponseWriter, r *http.Request) {
		services.HandleGetDecision(w, r, r.PathValue("decision_id"))
	})
	mux.HandleFunc("POST /v1/decisions/{decision_id}/resolve", func(w http.ResponseWriter, r *http.Request) {
		services.HandleResolveDecision(w, r, r.PathValue("decision_id"))
	})
	mux.HandleFunc("POST /v1/decisions/consume", services.HandleConsumeDecision)

	mux.HandleFunc("POST /v1/tool-tokens", services.HandleIssueToolToken)
	mux.HandleFunc("POST /v1/tool-tokens/consume", services.HandleConsumeToolToken)

	mux.HandleFunc("POST /v1/telemetry", services.HandleTelemetryIngest)

	mux.HandleFunc("GET /v1/audit", services.HandleAuditList)
	mux.HandleFunc("GET /v1/audit/verify", services.HandleAuditVerify)
	mux.HandleFunc("GET /v1/audit/export", services.HandleAuditExport)

	mux.HandleFunc("POST /v1/policies", services.HandlePolicyUpsert)

	mux.HandleFunc("GET /v1/traces/{trace_id}", func(w http.ResponseWriter, r *http.Request) {
		services.HandleTraceGet(w, r, r.PathValue("trace_id"))
	})

	mux.HandleFunc("GET /v1/risk/weights", services.HandleRiskWeights(scorer))
}

// decisionApprovalAdapter narrows approval.Service to the
// decision.ApprovalQueue interface so pkg/decision never imports
// pkg/approval directly.
type decisionApprovalAdapter struct {
	svc *approval.Service
}

func (a decisionApprovalAdapter) Create(ctx context.Context, req decision.ApprovalCreateRequest) (*decision.ApprovalCreateResult, error) {
	result, err := a.svc.Create(ctx, approval.CreateRequest{
		TenantID:     req.TenantID,
		RequiredRole: req.RequiredRole,
		ApprovalTTL:  req.ApprovalTTL,
		GrantedScope: req.GrantedScope,
	})
	if err != nil {
		return nil, err
	}
	return &decision.ApprovalCreateResult{
		DecisionID:    result.DecisionID,
		DecisionToken: result.DecisionToken,
		ExpiresAt:     result.ExpiresAt,
	}, nil
}
