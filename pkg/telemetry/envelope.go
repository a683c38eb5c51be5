// Package telemetry implements C10: verification and ingest of signed
// adapter telemetry envelopes (spec §3 "SignedTelemetryEnvelope", §4.10).
package telemetry

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/clasper-io/clasper/pkg/canonicalize"
	"github.com/clasper-io/clasper/pkg/clasperrors"
)

// PayloadType is the tagged variant discriminator from spec §3.
type PayloadType string

const (
	PayloadTrace      PayloadType = "trace"
	PayloadAudit      PayloadType = "audit"
	PayloadCost       PayloadType = "cost"
	PayloadMetrics    PayloadType = "metrics"
	PayloadViolations PayloadType = "violations"
)

// Envelope is the wire form from spec §3.
type Envelope struct {
	EnvelopeVersion string          `json:"envelope_version"`
	AdapterID       string          `json:"adapter_id"`
	AdapterVersion  string          `json:"adapter_version,omitempty"`
	IssuedAt        time.Time       `json:"issued_at"`
	ExecutionID     string          `json:"execution_id"`
	TraceID         string          `json:"trace_id,omitempty"`
	PayloadType     PayloadType     `json:"payload_type"`
	Payload         json.RawMessage `json:"payload"`
	PayloadHash     string          `json:"payload_hash"`
	Signature       string          `json:"signature"`
}

// signingFields is the exact sorted set spec §3 says the signature covers:
// canonical JSON of the envelope with `payload` omitted.
type signingFields struct {
	EnvelopeVersion string `json:"envelope_version"`
	AdapterID       string `json:"adapter_id"`
	AdapterVersion  string `json:"adapter_version"`
	IssuedAt        string `json:"issued_at"`
	ExecutionID     string `json:"execution_id"`
	TraceID         string `json:"trace_id"`
	PayloadType     string `json:"payload_type"`
	PayloadHash     string `json:"payload_hash"`
}

// SigningInput returns the canonical JSON bytes the signature is computed
// over.
func (e *Envelope) SigningInput() ([]byte, error) {
	f := signingFields{
		EnvelopeVersion: e.EnvelopeVersion,
		AdapterID:       e.AdapterID,
		AdapterVersion:  e.AdapterVersion,
		IssuedAt:        e.IssuedAt.UTC().Format(time.RFC3339Nano),
		ExecutionID:     e.ExecutionID,
		TraceID:         e.TraceID,
		PayloadType:     string(e.PayloadType),
		PayloadHash:     e.PayloadHash,
	}
	return canonicalize.CanonicalJSON(f)
}

// ComputePayloadHash recomputes "sha256:" || hex(SHA-256(canonical(payload)))
// from the raw payload bytes.
func ComputePayloadHash(payload json.RawMessage) (string, error) {
	var v interface{}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return "", clasperrors.Wrap(clasperrors.KindSchemaInvalid, "payload is not valid JSON", err)
	}
	sum, err := canonicalize.SHA256JSON(v)
	if err != nil {
		return "", clasperrors.Wrap(clasperrors.KindSchemaInvalid, "payload is not hashable", err)
	}
	return canonicalize.FormatHash(sum), nil
}
