package adapter

import "errors"

var (
	errAlreadyActive = errors.New("adapter: a non-revoked telemetry key is already active for this adapter version")
	errKeyNotFound    = errors.New("adapter: telemetry key not found or already revoked")
	// ErrNotFound is returned when an adapter_id/version is not registered
	// for the tenant.
	ErrNotFound = errors.New("adapter: registration not found")
)
