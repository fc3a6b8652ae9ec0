package mlicense

import "time"

// TimestampLayout is the ISO-8601 form used for issuedAt and expiresAt
// (UTC, millisecond precision).
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// KeyEncoding tags how a key half is serialized on disk.
type KeyEncoding string

const (
	// EncodingDER is PKCS8 DER for private keys and SPKI DER for public keys.
	EncodingDER KeyEncoding = "der"
	// EncodingPEM wraps the DER bytes in PEM blocks.
	EncodingPEM KeyEncoding = "pem"
	// EncodingEncryptedPEM is a passphrase-protected PKCS8 private key in PEM.
	// The public half is written as plain PEM.
	EncodingEncryptedPEM KeyEncoding = "encrypted-pem"
)

// KeyPair holds both serialized halves of a signing key.
type KeyPair struct {
	PrivateKey []byte
	PublicKey  []byte
	Encoding   KeyEncoding
}

// Claims are the signed business facts of a license. The JSON field order
// here is the canonical order.
type Claims struct {
	MachineID string `json:"machineId" validate:"required"`
	Username  string `json:"username"`
	IssuedAt  string `json:"issuedAt" validate:"required,isotime"`
	ExpiresAt string `json:"expiresAt" validate:"required,isotime"`
}

// SignedLicense is the persisted license artifact.
type SignedLicense struct {
	Claims
	Signature string `json:"signature"`
}

// ExpiryTime parses ExpiresAt. ok is false when the field is empty or
// not a valid timestamp.
func (c Claims) ExpiryTime() (t time.Time, ok bool) {
	if c.ExpiresAt == "" {
		return time.Time{}, false
	}
	t, err := ParseTimestamp(c.ExpiresAt)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Outcome is the per-call result of a verification.
type Outcome string

const (
	OutcomeValid            Outcome = "Valid"
	OutcomeExpired          Outcome = "Expired"
	OutcomeMismatched       Outcome = "Mismatched"
	OutcomeSchemaInvalid    Outcome = "SchemaInvalid"
	OutcomeSignatureInvalid Outcome = "SignatureInvalid"
	OutcomeKeyInvalid       Outcome = "KeyInvalid"
)
