// Package ledger keeps an audit record of issued licenses.
//
// The ledger is written by the administrator-side signer only. Verifiers
// never consult it: a license is valid or not on its own.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/CloudNativeWorks/cnw-machine-license/mlicense"
)

// ErrNotFound is returned by Lookup when no record has the signature.
var ErrNotFound = errors.New("issuance record not found")

// IssuanceRecord describes one signed license.
type IssuanceRecord struct {
	ID         string    `json:"id" bson:"_id"`
	MachineID  string    `json:"machine_id" bson:"machine_id"`
	Username   string    `json:"username" bson:"username"`
	IssuedAt   string    `json:"issued_at" bson:"issued_at"`
	ExpiresAt  string    `json:"expires_at" bson:"expires_at"`
	Signature  string    `json:"signature" bson:"signature"`
	RecordedAt time.Time `json:"recorded_at" bson:"recorded_at"`
}

// NewRecord builds a record for lic with a fresh, time-ordered UUID v6.
func NewRecord(lic mlicense.SignedLicense) (IssuanceRecord, error) {
	id, err := uuid.NewV6()
	if err != nil {
		return IssuanceRecord{}, fmt.Errorf("generate record id: %w", err)
	}
	return IssuanceRecord{
		ID:         id.String(),
		MachineID:  lic.MachineID,
		Username:   lic.Username,
		IssuedAt:   lic.IssuedAt,
		ExpiresAt:  lic.ExpiresAt,
		Signature:  lic.Signature,
		RecordedAt: time.Now().UTC(),
	}, nil
}

// Ledger stores issuance records.
type Ledger interface {
	// Record stores rec. Records are keyed by signature: recording the same
	// signature twice returns the first record unchanged.
	Record(ctx context.Context, rec IssuanceRecord) (*IssuanceRecord, error)

	// Lookup returns the record for a signature or ErrNotFound.
	Lookup(ctx context.Context, signature string) (*IssuanceRecord, error)

	// ListByMachine returns all records for a machine, oldest first.
	ListByMachine(ctx context.Context, machineID string) ([]IssuanceRecord, error)

	// Count returns the number of licenses issued for a machine.
	Count(ctx context.Context, machineID string) (int, error)

	// Close releases any resources held by the ledger.
	Close(ctx context.Context) error
}

// Open selects a ledger implementation from a URL:
//
//	postgres://... or postgresql://...   PostgresLedger
//	mongodb://... or mongodb+srv://...   MongoLedger using the given database
//	memory:// or ""                      MemoryLedger
//
// The returned ledger owns its connection and releases it on Close.
func Open(ctx context.Context, rawURL, database string) (Ledger, error) {
	if rawURL == "" {
		return NewMemoryLedger(), nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse ledger url: %w", err)
	}
	switch u.Scheme {
	case "memory":
		return NewMemoryLedger(), nil
	case "postgres", "postgresql":
		return openPostgres(ctx, rawURL)
	case "mongodb", "mongodb+srv":
		return openMongo(ctx, rawURL, database)
	default:
		return nil, fmt.Errorf("unsupported ledger scheme %q", u.Scheme)
	}
}
