package mlicense

import (
	"crypto/rsa"
	"crypto/x509"
	"sync"
	"testing"

	. "github.com/onsi/gomega"
	"github.com/spf13/afero"
)

const (
	testPrivPath = "/keys/private_key.der"
	testPubPath  = "/keys/public_key.der"
)

var (
	testKeyOnce sync.Once
	testKey     *rsa.PrivateKey
	testKeyDER  []byte
	testPubDER  []byte
	testKeyErr  error
)

// sharedTestKey generates one RSA key per test binary; key generation is
// the slowest part of these tests.
func sharedTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	g := NewWithT(t)
	testKeyOnce.Do(func() {
		var kp *KeyPair
		kp, testKeyErr = GenerateKeyPair()
		if testKeyErr != nil {
			return
		}
		testKeyDER, testPubDER = kp.PrivateKey, kp.PublicKey
		var key any
		key, testKeyErr = x509.ParsePKCS8PrivateKey(kp.PrivateKey)
		if testKeyErr == nil {
			testKey = key.(*rsa.PrivateKey)
		}
	})
	g.Expect(testKeyErr).ToNot(HaveOccurred())
	return testKey
}

// testFs returns an in-memory filesystem holding the shared key pair at
// testPrivPath and testPubPath.
func testFs(t *testing.T) afero.Fs {
	t.Helper()
	g := NewWithT(t)
	sharedTestKey(t)
	fs := afero.NewMemMapFs()
	g.Expect(afero.WriteFile(fs, testPrivPath, testKeyDER, 0o600)).To(Succeed())
	g.Expect(afero.WriteFile(fs, testPubPath, testPubDER, 0o644)).To(Succeed())
	return fs
}

func exampleClaims() Claims {
	return Claims{
		MachineID: "M-123",
		Username:  "alice",
		IssuedAt:  "2024-01-01T00:00:00.000Z",
		ExpiresAt: "2025-01-01T00:00:00.000Z",
	}
}

// signedArtifact signs c with the shared key and returns the artifact bytes.
func signedArtifact(t *testing.T, fs afero.Fs, c Claims) []byte {
	t.Helper()
	g := NewWithT(t)
	sig, err := NewSigner(WithSignerFs(fs)).Sign(c, testPrivPath)
	g.Expect(err).ToNot(HaveOccurred())
	raw, err := MarshalArtifact(SignedLicense{Claims: c, Signature: sig})
	g.Expect(err).ToNot(HaveOccurred())
	return raw
}
