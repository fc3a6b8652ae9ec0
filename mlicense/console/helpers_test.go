package console

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/gomega"
	"github.com/spf13/afero"

	"github.com/CloudNativeWorks/cnw-machine-license/mlicense"
	"github.com/CloudNativeWorks/cnw-machine-license/mlicense/ledger"
)

const (
	privPath = "/keys/private_key.der"
	pubPath  = "/keys/public_key.der"
)

var (
	keyOnce sync.Once
	keyPair *mlicense.KeyPair
	keyErr  error
)

// keyFs returns an in-memory filesystem holding one generated key pair,
// shared across the test binary.
func keyFs(t *testing.T) afero.Fs {
	t.Helper()
	g := NewWithT(t)
	keyOnce.Do(func() {
		keyPair, keyErr = mlicense.GenerateKeyPair()
	})
	g.Expect(keyErr).ToNot(HaveOccurred())

	fs := afero.NewMemMapFs()
	_, _, err := mlicense.WriteKeyPair(fs, "/keys", keyPair, false)
	g.Expect(err).ToNot(HaveOccurred())
	return fs
}

func testClaims() mlicense.Claims {
	return mlicense.Claims{
		MachineID: "M-123",
		Username:  "alice",
		IssuedAt:  "2024-01-01T00:00:00.000Z",
		ExpiresAt: "2025-01-01T00:00:00.000Z",
	}
}

func verifierAt(fs afero.Fs, ts string) *mlicense.Verifier {
	now, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		panic(err)
	}
	return mlicense.NewVerifier(mlicense.WithFs(fs), mlicense.WithClock(func() time.Time { return now }))
}

// fakeHost answers dialogs through optional funcs.
type fakeHost struct {
	pick func(ctx context.Context) (string, error)
	save func(ctx context.Context, name string, content []byte) (string, error)
}

func (h *fakeHost) PickPrivateKey(ctx context.Context) (string, error) {
	if h.pick == nil {
		return "", mlicense.ErrCancelled
	}
	return h.pick(ctx)
}

func (h *fakeHost) SaveArtifact(ctx context.Context, name string, content []byte) (string, error) {
	if h.save == nil {
		return "", mlicense.ErrCancelled
	}
	return h.save(ctx, name, content)
}

// brokenLedger fails every write.
type brokenLedger struct {
	ledger.Ledger
}

func (brokenLedger) Record(context.Context, ledger.IssuanceRecord) (*ledger.IssuanceRecord, error) {
	return nil, errors.New("database unavailable")
}
