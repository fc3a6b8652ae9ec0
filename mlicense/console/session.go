package console

import (
	"context"
	"fmt"
	"time"

	"github.com/CloudNativeWorks/cnw-machine-license/mlicense"
)

// Session is the operator-facing side of the boundary. It never touches
// key material or the filesystem; everything goes through its Dispatcher.
type Session struct {
	d       Dispatcher
	keyPath string
	now     func() time.Time
}

// NewSession creates a Session with no key selected.
func NewSession(d Dispatcher) *Session {
	return &Session{d: d, now: time.Now}
}

// KeyPath returns the selected private key path, or "".
func (s *Session) KeyPath() string {
	return s.keyPath
}

// UseKey selects a private key path without a dialog.
func (s *Session) UseKey(path string) {
	s.keyPath = path
}

// SelectKey asks the host to pick a private key. On cancellation the
// previous selection is kept and mlicense.ErrCancelled is returned.
func (s *Session) SelectKey(ctx context.Context) (string, error) {
	resp, err := s.d.Dispatch(ctx, PickPrivateKeyRequest{})
	if err != nil {
		return "", err
	}
	r, ok := resp.(PickPrivateKeyResponse)
	if !ok {
		return "", unexpected(resp)
	}
	switch {
	case r.Cancelled:
		return "", mlicense.ErrCancelled
	case r.Error != "":
		return "", responseError(r.Error, r.Code)
	}
	s.keyPath = r.Path
	return r.Path, nil
}

// Issue builds claims from operator input and has the backend sign them
// with the selected key.
func (s *Session) Issue(ctx context.Context, machineID, username, validityDays, explicitExpiry string) (*mlicense.SignedLicense, error) {
	claims, err := mlicense.BuildClaims(machineID, username, validityDays, explicitExpiry, s.now())
	if err != nil {
		return nil, err
	}
	return s.Sign(ctx, claims)
}

// Sign has the backend sign claims with the selected key.
func (s *Session) Sign(ctx context.Context, claims mlicense.Claims) (*mlicense.SignedLicense, error) {
	if s.keyPath == "" {
		return nil, fmt.Errorf("%w: no private key selected", mlicense.ErrKeyLoad)
	}
	resp, err := s.d.Dispatch(ctx, SignLicenseRequest{Claims: claims, KeyPath: s.keyPath})
	if err != nil {
		return nil, err
	}
	r, ok := resp.(SignLicenseResponse)
	if !ok {
		return nil, unexpected(resp)
	}
	if !r.OK {
		return nil, responseError(r.Error, r.Code)
	}
	return &mlicense.SignedLicense{Claims: claims, Signature: r.SignatureHex}, nil
}

// Save has the host store lic under a default name derived from its
// machine id. It returns mlicense.ErrCancelled if the operator backs out.
func (s *Session) Save(ctx context.Context, lic *mlicense.SignedLicense) (string, error) {
	content, err := mlicense.MarshalArtifact(*lic)
	if err != nil {
		return "", err
	}
	resp, err := s.d.Dispatch(ctx, SaveArtifactRequest{
		DefaultName: mlicense.ArtifactName(lic.Claims),
		Content:     string(content),
	})
	if err != nil {
		return "", err
	}
	r, ok := resp.(SaveArtifactResponse)
	if !ok {
		return "", unexpected(resp)
	}
	switch {
	case r.Cancelled:
		return "", mlicense.ErrCancelled
	case !r.OK:
		return "", responseError(r.Error, r.Code)
	}
	return r.Path, nil
}

func unexpected(resp Response) error {
	return fmt.Errorf("unexpected response type %T", resp)
}
