package canonicalize

import (
	"encoding/json"
	"fmt"
	"math"
)

// CanonicalJSON returns the canonical-JSON byte encoding of v: object keys
// sorted lexicographically at every depth, no insignificant whitespace,
// numbers in shortest decimal form, RFC-8259 string escaping. It is total
// over finite JSON values and rejects values that would lose precision if
// hashed (bare float64/large integers; use json.Number or strings for those).
func CanonicalJSON(v interface{}) ([]byte, error) {
	if err := checkHashable(v); err != nil {
		return nil, err
	}
	return JCS(v)
}

// SHA256Hex returns the lowercase hex SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	return HashBytes(data)
}

// SHA256JSON canonicalizes v and returns its SHA-256 hex digest in one step.
func SHA256JSON(v interface{}) (string, error) {
	b, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	return SHA256Hex(b), nil
}

// FormatHash prefixes a hex digest with the algorithm tag used throughout
// every chain and envelope in this system.
func FormatHash(hex string) string {
	return "sha256:" + hex
}

// checkHashable rejects float64/float32 and numeric values that cannot be
// round-tripped through canonical JSON without loss, per the data model's
// "floating-point and very large integers that would lose precision are
// forbidden in any hashable payload" rule. It walks map[string]interface{}
// and []interface{} values and checks json.Number and float32/float64
// leaves, as produced by json.Unmarshal or hand-built maps. Structs and
// other types are not walked: numbers nested inside them (for example a
// float64 in a struct field's map) pass unchecked.
func checkHashable(v interface{}) error {
	switch t := v.(type) {
	case float32, float64:
		return fmt.Errorf("canonicalize: float values are not hashable: %v", t)
	case json.Number:
		return checkNumberPrecision(t)
	case map[string]interface{}:
		for k, val := range t {
			if err := checkHashable(val); err != nil {
				return fmt.Errorf("canonicalize: field %q: %w", k, err)
			}
		}
		return nil
	case []interface{}:
		for i, val := range t {
			if err := checkHashable(val); err != nil {
				return fmt.Errorf("canonicalize: index %d: %w", i, err)
			}
		}
		return nil
	default:
		return nil
	}
}

func checkNumberPrecision(n json.Number) error {
	if _, err := n.Int64(); err == nil {
		return nil
	}
	f, err := n.Float64()
	if err != nil {
		return fmt.Errorf("canonicalize: unparsable number %q", n)
	}
	if math.Abs(f) > (1 << 53) {
		return fmt.Errorf("canonicalize: number %q exceeds safe integer precision", n)
	}
	return nil
}
