package ledger

import (
	"context"
	"sort"
	"sync"
)

// MemoryLedger is an in-process Ledger. Records are lost on exit.
type MemoryLedger struct {
	mu          sync.RWMutex
	bySignature map[string]IssuanceRecord
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{bySignature: make(map[string]IssuanceRecord)}
}

// Record stores rec unless its signature is already present, and returns
// the stored record.
func (m *MemoryLedger) Record(_ context.Context, rec IssuanceRecord) (*IssuanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.bySignature[rec.Signature]; ok {
		return &existing, nil
	}
	m.bySignature[rec.Signature] = rec
	return &rec, nil
}

// Lookup returns the record with the given signature.
func (m *MemoryLedger) Lookup(_ context.Context, signature string) (*IssuanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.bySignature[signature]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

// ListByMachine returns the records for machineID, oldest first.
func (m *MemoryLedger) ListByMachine(_ context.Context, machineID string) ([]IssuanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []IssuanceRecord
	for _, rec := range m.bySignature {
		if rec.MachineID == machineID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RecordedAt.Equal(out[j].RecordedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].RecordedAt.Before(out[j].RecordedAt)
	})
	return out, nil
}

// Count returns how many licenses were recorded for machineID.
func (m *MemoryLedger) Count(ctx context.Context, machineID string) (int, error) {
	recs, err := m.ListByMachine(ctx, machineID)
	return len(recs), err
}

// Close is a no-op.
func (m *MemoryLedger) Close(_ context.Context) error {
	return nil
}
