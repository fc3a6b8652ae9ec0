package mlicense

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Canonicalize returns the exact bytes covered by a license signature: a
// JSON object holding machineId, username, issuedAt and expiresAt in that
// order. Callers holding a SignedLicense pass its Claims, so the signature
// and any later additions never reach the signed bytes.
func Canonicalize(c Claims) []byte {
	// Marshalling four plain strings cannot fail.
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(canonicalClaims(c)); err != nil {
		panic(fmt.Sprintf("canonicalize claims: %v", err))
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
}

// canonicalClaims pins the field set independently of tags on Claims.
type canonicalClaims struct {
	MachineID string `json:"machineId"`
	Username  string `json:"username"`
	IssuedAt  string `json:"issuedAt"`
	ExpiresAt string `json:"expiresAt"`
}
