package telemetry

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"math/big"

	"github.com/clasper-io/clasper/pkg/adapter"
	"github.com/clasper-io/clasper/pkg/clasperrors"
)

// jwk is the minimal subset of RFC 7517 this module needs: an OKP
// (Ed25519) or EC (P-256) public key.
type jwk struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y,omitempty"`
}

func decodeJWKCoordinate(s string) ([]byte, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, clasperrors.Wrap(clasperrors.KindSchemaInvalid, "malformed JWK coordinate", err)
	}
	return b, nil
}

// verifySignature checks sig (base64url) over signingInput using the
// algorithm declared by key, per spec §4.10 step 5: ed25519 uses pure
// Ed25519, ES256 uses ECDSA-SHA256.
func verifySignature(key *adapter.TelemetryKey, signingInput []byte, sigB64 string) error {
	sig, err := base64.RawURLEncoding.DecodeString(sigB64)
	if err != nil {
		return clasperrors.Wrap(clasperrors.KindInvalidSignature, "malformed signature encoding", err)
	}

	var k jwk
	if err := json.Unmarshal([]byte(key.PublicJWK), &k); err != nil {
		return clasperrors.Wrap(clasperrors.KindSchemaInvalid, "malformed telemetry public_jwk", err)
	}

	switch key.Algorithm {
	case adapter.AlgorithmEd25519:
		x, err := decodeJWKCoordinate(k.X)
		if err != nil {
			return err
		}
		if len(x) != ed25519.PublicKeySize {
			return clasperrors.New(clasperrors.KindSchemaInvalid, "ed25519 public key has wrong length")
		}
		if !ed25519.Verify(ed25519.PublicKey(x), signingInput, sig) {
			return clasperrors.New(clasperrors.KindInvalidSignature, "ed25519 signature verification failed")
		}
		return nil

	case adapter.AlgorithmES256:
		x, err := decodeJWKCoordinate(k.X)
		if err != nil {
			return err
		}
		y, err := decodeJWKCoordinate(k.Y)
		if err != nil {
			return err
		}
		pub := &ecdsa.PublicKey{
			Curve: elliptic.P256(),
			X:     new(big.Int).SetBytes(x),
			Y:     new(big.Int).SetBytes(y),
		}
		digest := sha256.Sum256(signingInput)
		if !ecdsa.VerifyASN1(pub, digest[:], sig) {
			return clasperrors.New(clasperrors.KindInvalidSignature, "ES256 signature verification failed")
		}
		return nil

	default:
		return clasperrors.New(clasperrors.KindUnsupportedAlgorithm, "unsupported telemetry key algorithm: "+string(key.Algorithm))
	}
}
