// Package identity holds the verification material for the operator
// credential path described in spec §4.1: JWKS-backed tokens issued by an
// external identity provider, as opposed to the symmetric-secret adapter and
// backend paths handled directly in pkg/auth.
package identity

import (
	"context"

	"github.com/golang-jwt/jwt/v5"
)

// KeySet manages verification (and, where applicable, signing) of identity
// tokens under key rotation. JWKSKeySet is the only implementation Clasper
// constructs; the interface exists so pkg/auth can depend on an abstraction
// rather than the concrete JWKS client.
type KeySet interface {
	// Sign creates a signed token with the current active key, where
	// supported (JWKSKeySet does not support signing: operator tokens are
	// always externally minted).
	Sign(ctx context.Context, claims jwt.Claims) (string, error)
	// KeyFunc returns the key for verification based on the token header.
	KeyFunc() jwt.Keyfunc
}
