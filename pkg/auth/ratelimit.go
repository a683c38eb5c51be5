package auth

import (
	"fmt"
	"net/http"

	"github.com/clasper-io/clasper/pkg/api"
	"github.com/clasper-io/clasper/pkg/ratelimit"
)

// RateLimitMiddleware enforces per-actor rate limiting at the HTTP layer.
// It extracts the actor ID from the authenticated Principal (falls back to
// remote IP). On rate limit exceeded, it returns 429 with a Retry-After
// header. Fails open on a nil store or limiter errors — rate limiting is a
// defense in depth, not a governance decision, so spec §7's "no silent
// degrade to allow" does not apply here.
func RateLimitMiddleware(store ratelimit.Store, policy ratelimit.Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if store == nil {
				next.ServeHTTP(w, r)
				return
			}

			actorID := r.RemoteAddr
			if principal, err := GetPrincipal(r.Context()); err == nil {
				actorID = fmt.Sprintf("%s/%s", principal.GetTenantID(), principal.GetID())
			}

			allowed, err := store.Allow(r.Context(), actorID, policy, 1)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			if !allowed {
				retryAfter := 60 / policy.RPM
				if retryAfter < 1 {
					retryAfter = 1
				}
				api.WriteTooManyRequests(w, retryAfter)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
