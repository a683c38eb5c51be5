package telemetry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/clasper-io/clasper/pkg/adapter"
	"github.com/clasper-io/clasper/pkg/clasperrors"
	"github.com/clasper-io/clasper/pkg/config"
	"github.com/clasper-io/clasper/pkg/metering"
	"github.com/clasper-io/clasper/pkg/trace"
)

const defaultMaxPayloadBytes = 1 << 20 // 1 MiB, spec §5 default

// AuditSink is the subset of pkg/audit.Sink this package depends on.
type AuditSink interface {
	Append(ctx context.Context, tenantID, eventType string, eventData map[string]interface{}, actor, targetID string) error
}

// TraceSink is the subset of pkg/trace.Store this package depends on.
type TraceSink interface {
	Insert(ctx context.Context, t *trace.Trace) error
}

// ModeResolver resolves the per-tenant enforcement mode (spec §4.10:
// off|warn|enforce).
type ModeResolver interface {
	Mode(tenantID string) config.EnforcementMode
}

type staticMode struct{ m config.EnforcementMode }

func (s staticMode) Mode(string) config.EnforcementMode { return s.m }

// StaticMode wraps a single mode as a resolver for deployments that apply
// the same TELEMETRY_SIGNATURE_MODE to every tenant.
func StaticMode(m config.EnforcementMode) ModeResolver { return staticMode{m} }

// Receipt is the Telemetry Ingest API response from spec §6.
type Receipt struct {
	Accepted   bool
	Violations []string
	Mode       config.EnforcementMode
	Verified   bool
}

// Service implements C10: schema validation, key lookup, payload hash and
// freshness checks, signature verification, fan-out dispatch, and
// per-tenant enforcement mode.
type Service struct {
	Adapters        adapter.Registry
	Traces          TraceSink
	Audit           AuditSink
	Meter           metering.Meter
	Violations      *ViolationStore
	Idempotency     IdempotencyStore
	Mode            ModeResolver
	MaxSkew         time.Duration
	MaxPayloadBytes int
}

func NewService(adapters adapter.Registry, traces TraceSink, auditSink AuditSink, meter metering.Meter, violations *ViolationStore, idempotency IdempotencyStore, mode ModeResolver, maxSkew time.Duration) *Service {
	if maxSkew <= 0 {
		maxSkew = 300 * time.Second
	}
	return &Service{
		Adapters:        adapters,
		Traces:          traces,
		Audit:           auditSink,
		Meter:           meter,
		Violations:      violations,
		Idempotency:     idempotency,
		Mode:            mode,
		MaxSkew:         maxSkew,
		MaxPayloadBytes: defaultMaxPayloadBytes,
	}
}

// Ingest verifies env against the authenticated tenant and dispatches its
// payload to the matching sink, per spec §4.10's six-step algorithm.
func (s *Service) Ingest(ctx context.Context, tenantID string, env *Envelope) (*Receipt, error) {
	mode := s.Mode.Mode(tenantID)
	receipt := &Receipt{Mode: mode}

	if mode == config.ModeOff {
		if err := s.dispatch(ctx, tenantID, env); err != nil {
			return nil, err
		}
		receipt.Accepted = true
		return receipt, nil
	}

	verifyErr := s.verify(ctx, tenantID, env)
	receipt.Verified = verifyErr == nil

	if verifyErr != nil {
		violation := Violation{
			TenantID:    tenantID,
			AdapterID:   env.AdapterID,
			ExecutionID: env.ExecutionID,
			Kind:        string(clasperrors.KindOf(verifyErr)),
			Detail:      verifyErr.Error(),
			OccurredAt:  time.Now().UTC(),
		}
		receipt.Violations = append(receipt.Violations, violation.Kind)
		if s.Violations != nil {
			_ = s.Violations.Record(ctx, violation)
		}
		if s.Audit != nil {
			_ = s.Audit.Append(ctx, tenantID, "telemetry_violation", map[string]interface{}{
				"adapter_id":   env.AdapterID,
				"execution_id": env.ExecutionID,
				"kind":         violation.Kind,
				"detail":       violation.Detail,
			}, "adapter:"+env.AdapterID, env.ExecutionID)
		}

		if mode == config.ModeEnforce {
			return receipt, verifyErr
		}
		// warn mode: record the violation above, then proceed with ingest.
	}

	key := idempotencyKey(env.ExecutionID, env.PayloadType, env.PayloadHash)
	alreadySeen, err := s.Idempotency.SeenAndMark(ctx, key)
	if err != nil {
		return nil, clasperrors.Wrap(clasperrors.KindStoreUnavailable, "idempotency check failed", err)
	}
	if alreadySeen {
		receipt.Accepted = true
		return receipt, nil
	}

	if err := s.dispatch(ctx, tenantID, env); err != nil {
		return nil, err
	}
	receipt.Accepted = true
	return receipt, nil
}

// verify runs spec §4.10 steps 1-5.
func (s *Service) verify(ctx context.Context, tenantID string, env *Envelope) error {
	if len(env.Payload) > s.MaxPayloadBytes {
		return clasperrors.New(clasperrors.KindPayloadTooLarge, "telemetry payload exceeds the configured size limit")
	}

	var payloadValue interface{}
	if err := json.Unmarshal(env.Payload, &payloadValue); err != nil {
		return clasperrors.Wrap(clasperrors.KindSchemaInvalid, "payload is not valid JSON", err)
	}
	if err := validatePayload(env.PayloadType, payloadValue); err != nil {
		return err
	}

	key, err := s.resolveKey(tenantID, env.AdapterID, env.AdapterVersion)
	if err != nil {
		return err
	}
	if !key.Active() {
		return clasperrors.New(clasperrors.KindKeyRevoked, "telemetry key has been revoked")
	}

	expectedHash, err := ComputePayloadHash(env.Payload)
	if err != nil {
		return err
	}
	if expectedHash != env.PayloadHash {
		return clasperrors.New(clasperrors.KindPayloadHashMismatch, "payload_hash does not match recomputed hash")
	}

	skew := time.Since(env.IssuedAt)
	if skew < 0 {
		skew = -skew
	}
	if skew > s.MaxSkew {
		return clasperrors.New(clasperrors.KindTimestampSkew, "issued_at is outside the allowed clock skew")
	}

	signingInput, err := env.SigningInput()
	if err != nil {
		return clasperrors.Wrap(clasperrors.KindSchemaInvalid, "failed to build signing input", err)
	}
	if err := verifySignature(key, signingInput, env.Signature); err != nil {
		return err
	}

	return nil
}

func (s *Service) resolveKey(tenantID, adapterID, version string) (*adapter.TelemetryKey, error) {
	if version != "" {
		key, err := s.Adapters.ActiveTelemetryKey(tenantID, adapterID, version)
		if err != nil {
			return nil, err
		}
		return key, nil
	}
	reg, err := s.Adapters.GetLatest(tenantID, adapterID)
	if err != nil {
		return nil, clasperrors.Wrap(clasperrors.KindMissingKey, "adapter not registered", err)
	}
	key := reg.ActiveKey()
	if key == nil {
		return nil, clasperrors.New(clasperrors.KindMissingKey, "no active telemetry key for adapter")
	}
	return key, nil
}

// dispatch fans out env.Payload to the sink matching env.PayloadType, per
// spec §4.10 step 6.
func (s *Service) dispatch(ctx context.Context, tenantID string, env *Envelope) error {
	switch env.PayloadType {
	case PayloadTrace:
		var t trace.Trace
		if err := json.Unmarshal(env.Payload, &t); err != nil {
			return clasperrors.Wrap(clasperrors.KindSchemaInvalid, "trace payload decode failed", err)
		}
		t.TenantID = tenantID
		if t.AdapterID == "" {
			t.AdapterID = env.AdapterID
		}
		if s.Traces == nil {
			return nil
		}
		if err := s.Traces.Insert(ctx, &t); err != nil {
			return clasperrors.Wrap(clasperrors.KindStoreUnavailable, "failed to persist trace", err)
		}
		return nil

	case PayloadAudit:
		var body struct {
			EventType string                 `json:"event_type"`
			TargetID  string                 `json:"target_id"`
			EventData map[string]interface{} `json:"event_data"`
		}
		if err := json.Unmarshal(env.Payload, &body); err != nil {
			return clasperrors.Wrap(clasperrors.KindSchemaInvalid, "audit payload decode failed", err)
		}
		if s.Audit == nil {
			return nil
		}
		if err := s.Audit.Append(ctx, tenantID, body.EventType, body.EventData, "adapter:"+env.AdapterID, body.TargetID); err != nil {
			return clasperrors.Wrap(clasperrors.KindStoreUnavailable, "failed to append audit entry", err)
		}
		return nil

	case PayloadCost:
		var body struct {
			AmountUSD float64 `json:"amount_usd"`
		}
		if err := json.Unmarshal(env.Payload, &body); err != nil {
			return clasperrors.Wrap(clasperrors.KindSchemaInvalid, "cost payload decode failed", err)
		}
		if s.Meter == nil {
			return nil
		}
		return s.Meter.Record(ctx, metering.Event{
			TenantID:  tenantID,
			EventType: metering.EventExecution,
			Quantity:  int64(body.AmountUSD * 100), // cents
			Timestamp: time.Now().UTC(),
			Metadata:  map[string]interface{}{"adapter_id": env.AdapterID, "execution_id": env.ExecutionID, "kind": "cost"},
		})

	case PayloadMetrics:
		var body struct {
			Name  string  `json:"name"`
			Value float64 `json:"value"`
		}
		if err := json.Unmarshal(env.Payload, &body); err != nil {
			return clasperrors.Wrap(clasperrors.KindSchemaInvalid, "metrics payload decode failed", err)
		}
		if s.Meter == nil {
			return nil
		}
		return s.Meter.Record(ctx, metering.Event{
			TenantID:  tenantID,
			EventType: metering.EventIngestion,
			Quantity:  int64(body.Value),
			Timestamp: time.Now().UTC(),
			Metadata:  map[string]interface{}{"adapter_id": env.AdapterID, "metric": body.Name},
		})

	case PayloadViolations:
		var body struct {
			ViolationType string `json:"violation_type"`
			Detail        string `json:"detail"`
		}
		if err := json.Unmarshal(env.Payload, &body); err != nil {
			return clasperrors.Wrap(clasperrors.KindSchemaInvalid, "violations payload decode failed", err)
		}
		if s.Violations != nil {
			_ = s.Violations.Record(ctx, Violation{
				TenantID: tenantID, AdapterID: env.AdapterID, ExecutionID: env.ExecutionID,
				Kind: body.ViolationType, Detail: body.Detail, OccurredAt: time.Now().UTC(),
			})
		}
		if s.Audit == nil {
			return nil
		}
		return s.Audit.Append(ctx, tenantID, "adapter_declared_violation", map[string]interface{}{
			"violation_type": body.ViolationType, "detail": body.Detail,
		}, "adapter:"+env.AdapterID, env.ExecutionID)

	default:
		return clasperrors.New(clasperrors.KindSchemaInvalid, "unknown payload_type: "+string(env.PayloadType))
	}
}
