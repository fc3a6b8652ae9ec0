package console

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/CloudNativeWorks/cnw-machine-license/internal/logging"
	"github.com/CloudNativeWorks/cnw-machine-license/mlicense"
	"github.com/CloudNativeWorks/cnw-machine-license/mlicense/ledger"
)

// Dispatcher executes requests on the privileged side of the boundary.
// The returned error is reserved for requests that cannot be dispatched at
// all; operation failures are reported inside the Response.
type Dispatcher interface {
	Dispatch(ctx context.Context, req Request) (Response, error)
}

// BackendOption configures a Backend.
type BackendOption func(*Backend)

// WithLedger records every successful signature in l.
func WithLedger(l ledger.Ledger) BackendOption {
	return func(b *Backend) {
		b.ledger = l
	}
}

// WithLogger sets the logger. Default: a logger that discards output.
func WithLogger(log logrus.FieldLogger) BackendOption {
	return func(b *Backend) {
		b.log = log
	}
}

// Backend owns the signer and the host dialogs. Requests are handled one at
// a time.
type Backend struct {
	mu     sync.Mutex
	signer *mlicense.Signer
	host   Host
	ledger ledger.Ledger
	log    logrus.FieldLogger
}

var _ Dispatcher = (*Backend)(nil)

// NewBackend creates a Backend.
func NewBackend(signer *mlicense.Signer, host Host, opts ...BackendOption) *Backend {
	b := &Backend{
		signer: signer,
		host:   host,
		log:    logging.Discard(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Dispatch runs req. A panic inside an operation is turned into an
// INTERNAL failure response.
func (b *Backend) Dispatch(ctx context.Context, req Request) (resp Response, err error) {
	if req == nil {
		return nil, fmt.Errorf("%w: nil request", mlicense.ErrUsage)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	log := b.log.WithField("op", req.Op())
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("operation panicked")
			resp = failure(req, fmt.Errorf("internal error: %v", r))
			err = nil
		}
	}()

	switch r := req.(type) {
	case PickPrivateKeyRequest:
		return b.pickPrivateKey(ctx, log), nil
	case SignLicenseRequest:
		return b.signLicense(ctx, log, r), nil
	case SaveArtifactRequest:
		return b.saveArtifact(ctx, log, r), nil
	default:
		return nil, fmt.Errorf("%w: unsupported request %T", mlicense.ErrUsage, req)
	}
}

func (b *Backend) pickPrivateKey(ctx context.Context, log logrus.FieldLogger) Response {
	path, err := b.host.PickPrivateKey(ctx)
	switch {
	case errors.Is(err, mlicense.ErrCancelled):
		log.Debug("key selection cancelled")
		return PickPrivateKeyResponse{Cancelled: true}
	case err != nil:
		log.WithError(err).Warn("key selection failed")
		return PickPrivateKeyResponse{Error: err.Error(), Code: mlicense.Code(err)}
	}
	log.WithField("keyPath", path).Info("private key selected")
	return PickPrivateKeyResponse{Path: path}
}

func (b *Backend) signLicense(ctx context.Context, log logrus.FieldLogger, req SignLicenseRequest) Response {
	log = log.WithFields(logrus.Fields{
		"machineId": req.Claims.MachineID,
		"keyPath":   req.KeyPath,
	})

	if req.KeyPath == "" {
		err := fmt.Errorf("%w: no private key selected", mlicense.ErrKeyLoad)
		log.WithError(err).Warn("sign rejected")
		return SignLicenseResponse{Error: err.Error(), Code: mlicense.Code(err)}
	}
	if err := mlicense.ValidateClaims(req.Claims); err != nil {
		log.WithError(err).Warn("sign rejected")
		return SignLicenseResponse{Error: err.Error(), Code: mlicense.Code(err)}
	}

	sig, err := b.signer.Sign(req.Claims, req.KeyPath)
	if err != nil {
		log.WithError(err).Warn("sign failed")
		return SignLicenseResponse{Error: err.Error(), Code: mlicense.Code(err)}
	}
	log.Info("license signed")

	b.record(ctx, log, mlicense.SignedLicense{Claims: req.Claims, Signature: sig})
	return SignLicenseResponse{OK: true, SignatureHex: sig}
}

// record writes lic to the ledger. Ledger errors are logged only: the
// signature is already valid and the operator still gets it.
func (b *Backend) record(ctx context.Context, log logrus.FieldLogger, lic mlicense.SignedLicense) {
	if b.ledger == nil {
		return
	}
	rec, err := ledger.NewRecord(lic)
	if err == nil {
		_, err = b.ledger.Record(ctx, rec)
	}
	if err != nil {
		log.WithError(err).Error("failed to record issuance")
		return
	}
	log.WithField("recordId", rec.ID).Debug("issuance recorded")
}

func (b *Backend) saveArtifact(ctx context.Context, log logrus.FieldLogger, req SaveArtifactRequest) Response {
	path, err := b.host.SaveArtifact(ctx, req.DefaultName, []byte(req.Content))
	switch {
	case errors.Is(err, mlicense.ErrCancelled):
		log.Debug("save cancelled")
		return SaveArtifactResponse{Cancelled: true}
	case err != nil:
		log.WithError(err).Warn("save failed")
		return SaveArtifactResponse{Error: err.Error(), Code: mlicense.Code(err)}
	}
	log.WithField("path", path).Info("license saved")
	return SaveArtifactResponse{OK: true, Path: path}
}
