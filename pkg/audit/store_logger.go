package audit

import (
	"context"
	"fmt"

	"github.com/clasper-io/clasper/pkg/auth"
)

// ChainLogger adapts the Logger interface to the hash-chained Store: every
// Record call becomes one Append, so callers that only know about the
// generic structured-logging interface also get tamper-evident persistence.
type ChainLogger struct {
	store *Store
}

func NewChainLogger(s *Store) *ChainLogger {
	return &ChainLogger{store: s}
}

func (l *ChainLogger) Record(ctx context.Context, eventType EventType, action, resource string, metadata map[string]interface{}) error {
	if l.store == nil {
		return fmt.Errorf("fail-closed: audit store not configured")
	}

	principal, _ := auth.GetPrincipal(ctx)
	tenantID := "system"
	actorID := "system"
	if principal != nil {
		tenantID = principal.GetTenantID()
		actorID = principal.GetID()
	}

	eventData := map[string]interface{}{
		"type":     string(eventType),
		"action":   action,
		"resource": resource,
	}
	for k, v := range metadata {
		eventData[k] = v
	}

	_, err := l.store.Append(ctx, tenantID, action, eventData, actorID, resource)
	return err
}
