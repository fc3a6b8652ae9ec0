package mlicense

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/afero"
)

// Verifier checks license artifacts against a public key and the local
// machine identity. It keeps no state between calls.
type Verifier struct {
	fs  afero.Fs
	now func() time.Time
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithClock sets the time source used for the expiry check. Default: time.Now.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		v.now = now
	}
}

// WithFs sets the filesystem license and key files are read from.
func WithFs(fs afero.Fs) VerifierOption {
	return func(v *Verifier) {
		v.fs = fs
	}
}

// NewVerifier creates a new license verifier.
func NewVerifier(opts ...VerifierOption) *Verifier {
	v := &Verifier{
		fs:  afero.NewOsFs(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// VerifyFile reads a license file from disk and verifies it.
func (v *Verifier) VerifyFile(licensePath, publicKeyPath, localMachineID string) (*SignedLicense, error) {
	raw, err := afero.ReadFile(v.fs, licensePath)
	if err != nil {
		return nil, fmt.Errorf("%w: read license file: %v", ErrSchema, err)
	}
	return v.Verify(raw, publicKeyPath, localMachineID)
}

// Verify evaluates a raw license artifact. The checks run in order and stop
// at the first failure:
//  1. Parse and schema check (ErrSchema)
//  2. Machine binding, exact match (ErrMachineMismatch)
//  3. Expiry against the verifier clock (ErrExpired)
//  4. Signature over the canonical claims (ErrSignatureInvalid)
//
// The public key is only read once the first three checks have passed.
func (v *Verifier) Verify(artifact []byte, publicKeyPath, localMachineID string) (*SignedLicense, error) {
	return v.verify(artifact, localMachineID, func() (*rsa.PublicKey, error) {
		return LoadPublicKey(v.fs, publicKeyPath)
	})
}

// VerifyWithKey is Verify for callers that already hold the public key,
// e.g. one embedded in the binary.
func (v *Verifier) VerifyWithKey(artifact []byte, pub *rsa.PublicKey, localMachineID string) (*SignedLicense, error) {
	return v.verify(artifact, localMachineID, func() (*rsa.PublicKey, error) {
		if pub == nil {
			return nil, fmt.Errorf("%w: public key is nil", ErrKeyLoad)
		}
		return pub, nil
	})
}

func (v *Verifier) verify(artifact []byte, localMachineID string, publicKey func() (*rsa.PublicKey, error)) (*SignedLicense, error) {
	lic, err := ParseArtifact(artifact)
	if err != nil {
		return nil, err
	}

	if lic.MachineID != localMachineID {
		return nil, fmt.Errorf("%w: license is bound to %q, this machine is %q",
			ErrMachineMismatch, lic.MachineID, localMachineID)
	}

	if exp, ok := lic.ExpiryTime(); ok && exp.Before(v.now()) {
		return nil, fmt.Errorf("%w: expired at %s", ErrExpired, FormatTimestamp(exp))
	}

	pub, err := publicKey()
	if err != nil {
		return nil, err
	}
	if err := VerifySignature(pub, *lic); err != nil {
		return nil, err
	}
	return lic, nil
}

// VerifySignature checks lic.Signature against the canonical encoding of
// its claims.
func VerifySignature(pub *rsa.PublicKey, lic SignedLicense) error {
	sig, err := hex.DecodeString(lic.Signature)
	if err != nil {
		return fmt.Errorf("%w: signature is not hex: %v", ErrSignatureInvalid, err)
	}
	digest := sha256.Sum256(Canonicalize(lic.Claims))
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig); err != nil {
		return ErrSignatureInvalid
	}
	return nil
}

// OutcomeOf maps a Verify error to the evaluation outcome.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeValid
	case errors.Is(err, ErrMachineMismatch):
		return OutcomeMismatched
	case errors.Is(err, ErrExpired):
		return OutcomeExpired
	case errors.Is(err, ErrSignatureInvalid):
		return OutcomeSignatureInvalid
	case errors.Is(err, ErrKeyLoad):
		return OutcomeKeyInvalid
	default:
		return OutcomeSchemaInvalid
	}
}
