package auth

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/clasper-io/clasper/pkg/api"
	"github.com/clasper-io/clasper/pkg/clasperrors"
	"github.com/clasper-io/clasper/pkg/identity"
)

// ClasperClaims are the JWT claims accepted on every inbound request, per
// spec §4.1/§6. tenant_id is required; everything else is optional and
// defaults to "unrestricted" when absent.
type ClasperClaims struct {
	jwt.RegisteredClaims
	TenantID        string   `json:"tenant_id"`
	WorkspaceID     string   `json:"workspace_id,omitempty"`
	UserID          string   `json:"user_id,omitempty"`
	AgentRole       string   `json:"agent_role,omitempty"`
	AllowedTools    []string `json:"allowed_tools,omitempty"`
	AllowedModels   []string `json:"allowed_models,omitempty"`
	AllowedSkills   []string `json:"allowed_skills,omitempty"`
	MaxTokens       int      `json:"max_tokens,omitempty"`
	BudgetRemaining float64  `json:"budget_remaining,omitempty"`
	Roles           []string `json:"roles,omitempty"`
}

// JWTValidator validates JWT tokens carrying ClasperClaims against one of
// the two verification strategies described in spec §4.1: a symmetric
// secret (adapter/backend credentials) or a JWKS key set (operator
// credentials from an external identity provider).
type JWTValidator struct {
	AdapterSecret []byte
	BackendSecret []byte
	OperatorKeys  identity.KeySet // nil if no external IdP configured
}

// NewJWTValidator builds a validator from the two HMAC secrets and an
// optional JWKS-backed KeySet for operator tokens.
func NewJWTValidator(adapterSecret, backendSecret []byte, operatorKeys identity.KeySet) *JWTValidator {
	return &JWTValidator{
		AdapterSecret: adapterSecret,
		BackendSecret: backendSecret,
		OperatorKeys:  operatorKeys,
	}
}

// Validate parses and validates a JWT, dispatching to the correct
// verification strategy based on the token's (unverified) issuer claim, then
// re-validating the signature under that strategy's key material. This
// mirrors spec §4.1's "carries exactly one of" requirement: a token is
// accepted only under the single strategy its issuer designates.
func (v *JWTValidator) Validate(tokenStr string) (*ClasperClaims, error) {
	unverified := &ClasperClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, unverified); err != nil {
		return nil, clasperrors.Wrap(clasperrors.KindInvalidSignature, "malformed token", err)
	}

	var claims ClasperClaims
	var err error

	switch unverified.Issuer {
	case "clasper/adapter":
		if len(v.AdapterSecret) == 0 {
			return nil, clasperrors.New(clasperrors.KindMissingToken, "adapter credentials not configured")
		}
		_, err = jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (interface{}, error) {
			return v.AdapterSecret, nil
		}, jwt.WithValidMethods([]string{"HS256"}))
	case "clasper/backend":
		if len(v.BackendSecret) == 0 {
			return nil, clasperrors.New(clasperrors.KindMissingToken, "backend credentials not configured")
		}
		_, err = jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (interface{}, error) {
			return v.BackendSecret, nil
		}, jwt.WithValidMethods([]string{"HS256"}))
	default:
		if v.OperatorKeys == nil {
			return nil, clasperrors.New(clasperrors.KindMissingToken, "no external identity provider configured")
		}
		_, err = jwt.ParseWithClaims(tokenStr, &claims, v.OperatorKeys.KeyFunc())
	}

	if err != nil {
		if strings.Contains(err.Error(), "expired") {
			return nil, clasperrors.Wrap(clasperrors.KindTokenExpired, "token expired", err)
		}
		return nil, clasperrors.Wrap(clasperrors.KindInvalidSignature, "token validation failed", err)
	}

	return &claims, nil
}

// publicPaths are endpoints that do not require authentication.
var publicPaths = []string{
	"/health",
	"/readiness",
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

// DevBypassConfig carries the three preconditions spec §4.1 requires before
// the development bypass may fabricate a synthetic admin identity.
type DevBypassConfig struct {
	Enabled            bool // DEV_NO_AUTH=true
	NonProduction      bool // deployment is not production
	NoExternalProvider bool // no OPS_OIDC_* configured
}

// active reports whether all three preconditions hold. Spec: "Violating any
// of those three preconditions fails with missing_token" — there is no
// partial bypass.
func (d DevBypassConfig) active() bool {
	return d.Enabled && d.NonProduction && d.NoExternalProvider
}

// NewMiddleware creates the C1 authentication middleware. If validator is
// nil and the dev bypass is not active, every non-public request fails
// closed with missing_token.
func NewMiddleware(validator *JWTValidator, dev DevBypassConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				if dev.active() {
					ctx := WithPrincipal(r.Context(), devPrincipal())
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
				api.WriteClasperError(w, r, clasperrors.New(clasperrors.KindMissingToken, "missing Authorization header"))
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				api.WriteClasperError(w, r, clasperrors.New(clasperrors.KindMissingToken, "expected 'Bearer <token>'"))
				return
			}

			if validator == nil {
				api.WriteClasperError(w, r, clasperrors.New(clasperrors.KindMissingToken, "authentication not configured"))
				return
			}

			claims, err := validator.Validate(parts[1])
			if err != nil {
				api.WriteClasperError(w, r, err)
				return
			}
			if claims.Subject == "" {
				api.WriteClasperError(w, r, clasperrors.New(clasperrors.KindMissingToken, "token subject is required"))
				return
			}
			if claims.TenantID == "" {
				api.WriteClasperError(w, r, clasperrors.New(clasperrors.KindMissingTenant, "token tenant binding is required"))
				return
			}

			principal := &BasePrincipal{
				ID:              claims.Subject,
				TenantID:        claims.TenantID,
				WorkspaceID:     claims.WorkspaceID,
				Roles:           claims.Roles,
				AllowedTools:    claims.AllowedTools,
				AllowedModels:   claims.AllowedModels,
				AllowedSkills:   claims.AllowedSkills,
				MaxTokens:       claims.MaxTokens,
				BudgetRemaining: claims.BudgetRemaining,
			}

			ctx := WithPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func devPrincipal() *BasePrincipal {
	return &BasePrincipal{
		ID:       "dev-admin",
		TenantID: "dev-tenant",
		Roles:    []string{"admin"},
	}
}
