package adapter

import (
	"sync"

	"github.com/Masterminds/semver/v3"

	"github.com/clasper-io/clasper/pkg/clasperrors"
)

// Registry is the per-tenant source of truth for enrolled adapters, keyed
// on (tenant_id, adapter_id, version).
type Registry interface {
	Upsert(reg *Registration) error
	Get(tenantID, adapterID, version string) (*Registration, error)
	// GetLatest resolves the highest semver version registered for the
	// adapter, or the lexicographically last if versions aren't semver.
	GetLatest(tenantID, adapterID string) (*Registration, error)
	List(tenantID string) []*Registration
	Disable(tenantID, adapterID, version string) error
	// ActiveTelemetryKey resolves the key C10 needs to verify an envelope.
	ActiveTelemetryKey(tenantID, adapterID, version string) (*TelemetryKey, error)
}

type registryKey struct {
	tenantID, adapterID, version string
}

// InMemoryRegistry is an RWMutex-guarded map store: a versioned record per
// key, mutated under lock, with no cross-tenant visibility (every accessor
// takes tenantID explicitly and filters by it).
type InMemoryRegistry struct {
	mu           sync.RWMutex
	registrations map[registryKey]*Registration
}

func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{registrations: make(map[registryKey]*Registration)}
}

func (r *InMemoryRegistry) Upsert(reg *Registration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := registryKey{reg.TenantID, reg.AdapterID, reg.Version}
	r.registrations[key] = reg
	return nil
}

func (r *InMemoryRegistry) Get(tenantID, adapterID, version string) (*Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.registrations[registryKey{tenantID, adapterID, version}]
	if !ok || reg.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return reg, nil
}

func (r *InMemoryRegistry) GetLatest(tenantID, adapterID string) (*Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *Registration
	var bestVer *semver.Version
	var lexBest *Registration
	for key, reg := range r.registrations {
		if key.tenantID != tenantID || key.adapterID != adapterID {
			continue
		}
		v, err := semver.NewVersion(reg.Version)
		if err != nil {
			if lexBest == nil || reg.Version > lexBest.Version {
				lexBest = reg
			}
			continue
		}
		if bestVer == nil || v.GreaterThan(bestVer) {
			bestVer = v
			best = reg
		}
	}
	if best == nil {
		best = lexBest
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best, nil
}

func (r *InMemoryRegistry) List(tenantID string) []*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Registration, 0)
	for key, reg := range r.registrations {
		if key.tenantID == tenantID {
			out = append(out, reg)
		}
	}
	return out
}

func (r *InMemoryRegistry) Disable(tenantID, adapterID, version string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.registrations[registryKey{tenantID, adapterID, version}]
	if !ok {
		return ErrNotFound
	}
	reg.Enabled = false
	return nil
}

func (r *InMemoryRegistry) ActiveTelemetryKey(tenantID, adapterID, version string) (*TelemetryKey, error) {
	reg, err := r.Get(tenantID, adapterID, version)
	if err != nil {
		return nil, clasperrors.Wrap(clasperrors.KindMissingKey, "adapter not registered", err)
	}
	key := reg.ActiveKey()
	if key == nil {
		return nil, clasperrors.New(clasperrors.KindMissingKey, "no active telemetry key for adapter")
	}
	return key, nil
}
