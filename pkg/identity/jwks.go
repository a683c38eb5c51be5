package identity

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWKSKeySet verifies operator identity tokens against a remote JSON Web Key
// Set, cached in-process with a TTL (spec §5 "Suspension points ... JWKS
// fetches (with in-process cache + TTL)"). Keys are looked up by the
// token's kid header among the fetched remote public keys; no keys are
// generated or held locally. Operator tokens are
// minted by the external identity provider, never by Clasper, so Sign
// always fails.
type JWKSKeySet struct {
	url        string
	httpClient *http.Client
	ttl        time.Duration

	mu       sync.RWMutex
	keys     map[string]interface{} // kid -> *rsa.PublicKey | *ecdsa.PublicKey
	fetchedAt time.Time
}

// NewJWKSKeySet creates a client for the given JWKS URL with a cache TTL.
func NewJWKSKeySet(url string, ttl time.Duration) *JWKSKeySet {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &JWKSKeySet{
		url:        url,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		ttl:        ttl,
		keys:       make(map[string]interface{}),
	}
}

// Sign is unsupported: operator tokens originate from the external IdP.
func (j *JWKSKeySet) Sign(ctx context.Context, claims jwt.Claims) (string, error) {
	return "", fmt.Errorf("jwks: operator tokens are minted externally, cannot sign")
}

// KeyFunc returns a jwt.Keyfunc that resolves the token's kid against the
// cached (or freshly fetched) key set.
func (j *JWKSKeySet) KeyFunc() jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, fmt.Errorf("jwks: missing kid in header")
		}

		if key, ok := j.lookup(kid); ok {
			return key, nil
		}

		if err := j.refresh(token.Method); err != nil {
			return nil, fmt.Errorf("jwks: refresh failed: %w", err)
		}

		key, ok := j.lookup(kid)
		if !ok {
			return nil, fmt.Errorf("jwks: unknown kid %q", kid)
		}
		return key, nil
	}
}

func (j *JWKSKeySet) lookup(kid string) (interface{}, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if time.Since(j.fetchedAt) > j.ttl {
		return nil, false
	}
	key, ok := j.keys[kid]
	return key, ok
}

type jwkSet struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
}

func (j *JWKSKeySet) refresh(_ jwt.SigningMethod) error {
	req, err := http.NewRequest(http.MethodGet, j.url, nil)
	if err != nil {
		return err
	}
	resp, err := j.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks endpoint returned %d", resp.StatusCode)
	}

	var set jwkSet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("jwks decode: %w", err)
	}

	keys := make(map[string]interface{}, len(set.Keys))
	for _, k := range set.Keys {
		pub, err := k.publicKey()
		if err != nil {
			continue // skip unparseable entries; do not fail the whole refresh
		}
		keys[k.Kid] = pub
	}

	j.mu.Lock()
	j.keys = keys
	j.fetchedAt = time.Now()
	j.mu.Unlock()
	return nil
}

func (k jwk) publicKey() (interface{}, error) {
	switch k.Kty {
	case "RSA":
		nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			return nil, err
		}
		eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			return nil, err
		}
		n := new(big.Int).SetBytes(nBytes)
		e := new(big.Int).SetBytes(eBytes)
		return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
	case "EC":
		xBytes, err := base64.RawURLEncoding.DecodeString(k.X)
		if err != nil {
			return nil, err
		}
		yBytes, err := base64.RawURLEncoding.DecodeString(k.Y)
		if err != nil {
			return nil, err
		}
		var curve elliptic.Curve
		switch k.Crv {
		case "P-256":
			curve = elliptic.P256()
		default:
			return nil, fmt.Errorf("jwks: unsupported curve %q", k.Crv)
		}
		x := new(big.Int).SetBytes(xBytes)
		y := new(big.Int).SetBytes(yBytes)
		return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
	default:
		return nil, fmt.Errorf("jwks: unsupported key type %q", k.Kty)
	}
}
