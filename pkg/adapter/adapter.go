// Package adapter implements C11, the per-tenant adapter registry: adapter
// enrollment plus the telemetry public-key lifecycle that C10 depends on.
package adapter

import (
	"sync"
	"time"
)

// RiskClass is the adapter-declared risk tier feeding C5's base score.
type RiskClass string

const (
	RiskLow      RiskClass = "low"
	RiskMedium   RiskClass = "medium"
	RiskHigh     RiskClass = "high"
	RiskCritical RiskClass = "critical"
)

// Algorithm is a telemetry key's signature algorithm, per spec §3.
type Algorithm string

const (
	AlgorithmEd25519 Algorithm = "ed25519"
	AlgorithmES256   Algorithm = "ES256"
)

// TelemetryKey is the active (or historical) signing key declared for an
// adapter version.
type TelemetryKey struct {
	Algorithm Algorithm
	PublicJWK string
	KeyID     string
	CreatedAt time.Time
	RevokedAt *time.Time
}

// Active reports whether the key is usable — present and not revoked.
func (k *TelemetryKey) Active() bool {
	return k != nil && k.RevokedAt == nil
}

// Registration is an AdapterRegistration row (spec §3).
type Registration struct {
	TenantID    string
	AdapterID   string
	Version     string
	DisplayName string
	RiskClass   RiskClass
	Capabilities []string
	Enabled     bool

	mu   sync.Mutex
	keys []*TelemetryKey // append-only history; last non-revoked is active
}

func (r *Registration) activeKeyLocked() *TelemetryKey {
	for i := len(r.keys) - 1; i >= 0; i-- {
		if r.keys[i].Active() {
			return r.keys[i]
		}
	}
	return nil
}

// ActiveKey returns the currently active telemetry key, or nil.
func (r *Registration) ActiveKey() *TelemetryKey {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeKeyLocked()
}

// SetKey registers a new telemetry key. Per spec §4.11, setting a new key
// does NOT automatically revoke a prior key — but at most one non-revoked
// key may exist at a time, so SetKey refuses to add a second active key
// without an explicit prior Revoke.
func (r *Registration) SetKey(key *TelemetryKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing := r.activeKeyLocked(); existing != nil {
		return errAlreadyActive
	}
	r.keys = append(r.keys, key)
	return nil
}

// RevokeKey marks the key with the given KeyID as revoked at now.
func (r *Registration) RevokeKey(keyID string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range r.keys {
		if k.KeyID == keyID && k.Active() {
			k.RevokedAt = &now
			return nil
		}
	}
	return errKeyNotFound
}

// HasCapability reports whether the adapter has declared cap.
func (r *Registration) HasCapability(cap string) bool {
	for _, c := range r.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}
