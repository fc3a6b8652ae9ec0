package mlicense

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/spf13/afero"
)

// Signer produces license signatures from a private key file. It only
// reads the key file; persisting the artifact is left to the caller.
type Signer struct {
	fs         afero.Fs
	passphrase []byte
}

// SignerOption configures a Signer.
type SignerOption func(*Signer)

// WithSignerFs sets the filesystem key files are read from. Default: the OS filesystem.
func WithSignerFs(fs afero.Fs) SignerOption {
	return func(s *Signer) {
		s.fs = fs
	}
}

// WithKeyPassphrase enables decoding of passphrase-protected private keys.
func WithKeyPassphrase(passphrase []byte) SignerOption {
	return func(s *Signer) {
		s.passphrase = passphrase
	}
}

// NewSigner creates a new Signer.
func NewSigner(opts ...SignerOption) *Signer {
	s := &Signer{fs: afero.NewOsFs()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sign loads the private key at privateKeyPath and returns the hex encoded
// RSA-SHA256 signature over Canonicalize(c).
func (s *Signer) Sign(c Claims, privateKeyPath string) (string, error) {
	key, err := LoadPrivateKey(s.fs, privateKeyPath, s.passphrase)
	if err != nil {
		return "", err
	}
	return SignClaims(key, c)
}

// SignClaims signs the canonical encoding of c with key.
func SignClaims(key *rsa.PrivateKey, c Claims) (string, error) {
	if key == nil {
		return "", fmt.Errorf("%w: private key is nil", ErrSign)
	}
	digest := sha256.Sum256(Canonicalize(c))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSign, err)
	}
	return hex.EncodeToString(sig), nil
}
