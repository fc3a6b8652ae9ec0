// Package mlicense issues and verifies machine-bound license files.
//
// Install with:
//
//	go get github.com/CloudNativeWorks/cnw-machine-license/mlicense
//
// A license binds four claims (machine id, holder, issue time, expiry) to
// one host and carries an RSA-SHA256 signature over their canonical
// encoding. The package covers the three offline roles:
//
//   - Key generation: 2048-bit RSA, PKCS8/SPKI DER (PEM optional)
//   - Signing: claims assembly, canonicalization and signing with the private key
//   - Verification: schema, machine binding, expiry and signature, in that order
//
// # Signing
//
//	claims, err := mlicense.BuildClaims("M-123", "alice", "365", "", time.Now())
//	sig, err := mlicense.NewSigner().Sign(claims, "/secure/private_key.der")
//	artifact, err := mlicense.MarshalArtifact(mlicense.SignedLicense{Claims: claims, Signature: sig})
//
// # Verification
//
//	v := mlicense.NewVerifier()
//	lic, err := v.VerifyFile("/etc/myapp/license.json", "/etc/myapp/public_key.der", machineID)
//	if errors.Is(err, mlicense.ErrExpired) {
//	    // ask the administrator to re-issue
//	}
package mlicense
