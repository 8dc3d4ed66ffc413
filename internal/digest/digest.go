// Package digest computes stable content digests of JSON-encodable values.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// JSON marshals v, canonicalizes it (RFC 8785) and returns the sha256 hex
// digest. Equal values digest equally regardless of map order or spacing.
func JSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("digest: marshal: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("digest: canonicalize: %w", err)
	}
	return Bytes(canonical), nil
}

// Bytes returns the sha256 hex digest of b.
func Bytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
