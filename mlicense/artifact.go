package mlicense

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// artifactSchema lists the fields a license artifact must carry before it
// is evaluated any further.
type artifactSchema struct {
	MachineID string `json:"machineId" validate:"required"`
	Signature string `json:"signature" validate:"required"`
	ExpiresAt string `json:"expiresAt" validate:"omitempty,isotime"`
}

// ParseArtifact decodes a license artifact and checks its schema. Field
// names must match exactly; a key that differs from a field name only in
// case is rejected. Unknown keys are ignored. Any failure wraps ErrSchema.
func ParseArtifact(raw []byte) (*SignedLicense, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}

	var lic SignedLicense
	targets := map[string]*string{
		"machineId": &lic.MachineID,
		"username":  &lic.Username,
		"issuedAt":  &lic.IssuedAt,
		"expiresAt": &lic.ExpiresAt,
		"signature": &lic.Signature,
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if dst, ok := targets[k]; ok {
			if err := json.Unmarshal(fields[k], dst); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrSchema, k, err)
			}
			continue
		}
		for name := range targets {
			if strings.EqualFold(k, name) {
				return nil, fmt.Errorf("%w: unexpected key %q, field names are case sensitive (want %q)", ErrSchema, k, name)
			}
		}
	}

	schema := artifactSchema{
		MachineID: lic.MachineID,
		Signature: lic.Signature,
		ExpiresAt: lic.ExpiresAt,
	}
	if err := validateStruct(schema); err != nil {
		return nil, err
	}
	return &lic, nil
}

// MarshalArtifact renders a signed license as indented UTF-8 JSON with a
// trailing newline.
func MarshalArtifact(lic SignedLicense) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(lic); err != nil {
		return nil, fmt.Errorf("marshal license: %w", err)
	}
	return buf.Bytes(), nil
}

// ArtifactName is the default file name offered when saving a license.
func ArtifactName(c Claims) string {
	return fmt.Sprintf("license-%s.json", sanitizeName(c.MachineID))
}

func sanitizeName(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "machine"
	}
	return string(out)
}
