package api

import (
	"net/http"

	"github.com/clasper-io/clasper/pkg/clasperrors"
)

// statusForKind is the single place a clasperrors.Kind is mapped to an HTTP
// status code. No other package may duplicate this mapping (DESIGN NOTES:
// "the HTTP adapter maps each variant to a status code exactly once").
var statusForKind = map[clasperrors.Kind]int{
	clasperrors.KindMissingToken:     http.StatusUnauthorized,
	clasperrors.KindTokenExpired:     http.StatusUnauthorized,
	clasperrors.KindInvalidSignature: http.StatusUnauthorized,
	clasperrors.KindMissingTenant:    http.StatusUnauthorized,
	clasperrors.KindPermissionDenied: http.StatusForbidden,

	clasperrors.KindSchemaInvalid:       http.StatusBadRequest,
	clasperrors.KindPayloadTooLarge:     http.StatusRequestEntityTooLarge,
	clasperrors.KindUnsupportedAlgorithm: http.StatusBadRequest,

	clasperrors.KindAdapterUnknown:        http.StatusBadRequest,
	clasperrors.KindAdapterDisabled:       http.StatusForbidden,
	clasperrors.KindCapabilityNotDeclared: http.StatusForbidden,
	clasperrors.KindBlockedByPolicy:       http.StatusForbidden,
	clasperrors.KindRequiresApproval:      http.StatusAccepted,
	clasperrors.KindBudgetExceeded:        http.StatusPaymentRequired,

	clasperrors.KindDecisionNotFound:      http.StatusNotFound,
	clasperrors.KindAlreadyResolved:       http.StatusConflict,
	clasperrors.KindRoleInsufficient:      http.StatusForbidden,
	clasperrors.KindJustificationTooShort: http.StatusBadRequest,
	clasperrors.KindDecisionExpired:       http.StatusGone,

	clasperrors.KindInvalidToolToken: http.StatusUnauthorized,
	clasperrors.KindToolTokenExpired: http.StatusUnauthorized,
	clasperrors.KindToolTokenUsed:    http.StatusConflict,

	clasperrors.KindPayloadHashMismatch: http.StatusUnprocessableEntity,
	clasperrors.KindTimestampSkew:       http.StatusUnprocessableEntity,
	clasperrors.KindMissingKey:          http.StatusUnprocessableEntity,
	clasperrors.KindKeyRevoked:          http.StatusUnprocessableEntity,

	clasperrors.KindStoreConflict:    http.StatusConflict,
	clasperrors.KindTimeout:          http.StatusGatewayTimeout,
	clasperrors.KindStoreUnavailable: http.StatusServiceUnavailable,
}

// WriteClasperError writes the RFC 7807 response for a *clasperrors.Error,
// falling back to 500 for anything else (which is itself a bug: every
// component-level error must already be a *clasperrors.Error by the time it
// reaches this layer).
func WriteClasperError(w http.ResponseWriter, r *http.Request, err error) {
	kind := clasperrors.KindOf(err)
	status, ok := statusForKind[kind]
	if !ok {
		WriteInternal(w, err)
		return
	}
	WriteErrorR(w, r, status, string(kind), err.Error())
}
