package ledger

import (
	"context"
	"fmt"
	"testing"
	"time"

	. "github.com/onsi/gomega"

	"github.com/CloudNativeWorks/cnw-machine-license/mlicense"
)

func testLicense(machineID, sig string) mlicense.SignedLicense {
	return mlicense.SignedLicense{
		Claims: mlicense.Claims{
			MachineID: machineID,
			Username:  "alice",
			IssuedAt:  "2024-01-01T00:00:00.000Z",
			ExpiresAt: "2025-01-01T00:00:00.000Z",
		},
		Signature: sig,
	}
}

func TestNewRecord(t *testing.T) {
	g := NewWithT(t)

	rec, err := NewRecord(testLicense("M-123", "abcd"))
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(rec.ID).To(HaveLen(36))
	g.Expect(rec.MachineID).To(Equal("M-123"))
	g.Expect(rec.Username).To(Equal("alice"))
	g.Expect(rec.IssuedAt).To(Equal("2024-01-01T00:00:00.000Z"))
	g.Expect(rec.ExpiresAt).To(Equal("2025-01-01T00:00:00.000Z"))
	g.Expect(rec.Signature).To(Equal("abcd"))
	g.Expect(rec.RecordedAt).To(BeTemporally("~", time.Now(), time.Minute))

	other, err := NewRecord(testLicense("M-123", "abcd"))
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(other.ID).ToNot(Equal(rec.ID))
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("empty url is memory", func(t *testing.T) {
		g := NewWithT(t)
		l, err := Open(ctx, "", "")
		g.Expect(err).ToNot(HaveOccurred())
		g.Expect(l).To(BeAssignableToTypeOf(&MemoryLedger{}))
		g.Expect(l.Close(ctx)).To(Succeed())
	})

	t.Run("memory scheme", func(t *testing.T) {
		g := NewWithT(t)
		l, err := Open(ctx, "memory://", "")
		g.Expect(err).ToNot(HaveOccurred())
		g.Expect(l).To(BeAssignableToTypeOf(&MemoryLedger{}))
	})

	t.Run("unsupported scheme", func(t *testing.T) {
		g := NewWithT(t)
		_, err := Open(ctx, "redis://localhost:6379", "")
		g.Expect(err).To(MatchError(ContainSubstring(`unsupported ledger scheme "redis"`)))
	})
}

func TestMemoryLedger(t *testing.T) {
	runLedgerContract(t, NewMemoryLedger())
}

func TestMemoryLedger_ConcurrentRecord(t *testing.T) {
	g := NewWithT(t)
	ctx := context.Background()
	l := NewMemoryLedger()

	done := make(chan error, 20)
	for i := 0; i < 20; i++ {
		go func(i int) {
			rec, err := NewRecord(testLicense("M-1", fmt.Sprintf("sig-%d", i%5)))
			if err == nil {
				_, err = l.Record(ctx, rec)
			}
			done <- err
		}(i)
	}
	for i := 0; i < 20; i++ {
		g.Expect(<-done).ToNot(HaveOccurred())
	}

	count, err := l.Count(ctx, "M-1")
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(count).To(Equal(5))
}

// runLedgerContract exercises the behavior every Ledger implementation
// shares. Machine ids are made unique per run so shared databases can be
// reused between test runs.
func runLedgerContract(t *testing.T, l Ledger) {
	t.Helper()
	ctx := context.Background()
	suffix := fmt.Sprintf("%d", time.Now().UnixNano())
	machineA := "machine-a-" + suffix
	machineB := "machine-b-" + suffix

	t.Run("record and lookup", func(t *testing.T) {
		g := NewWithT(t)
		rec, err := NewRecord(testLicense(machineA, "sig-1-"+suffix))
		g.Expect(err).ToNot(HaveOccurred())

		stored, err := l.Record(ctx, rec)
		g.Expect(err).ToNot(HaveOccurred())
		g.Expect(stored.ID).To(Equal(rec.ID))

		found, err := l.Lookup(ctx, "sig-1-"+suffix)
		g.Expect(err).ToNot(HaveOccurred())
		g.Expect(found.ID).To(Equal(rec.ID))
		g.Expect(found.MachineID).To(Equal(machineA))
		g.Expect(found.Username).To(Equal("alice"))
		g.Expect(found.ExpiresAt).To(Equal("2025-01-01T00:00:00.000Z"))
	})

	t.Run("duplicate signature keeps first record", func(t *testing.T) {
		g := NewWithT(t)
		first, err := NewRecord(testLicense(machineA, "sig-dup-"+suffix))
		g.Expect(err).ToNot(HaveOccurred())
		second, err := NewRecord(testLicense(machineA, "sig-dup-"+suffix))
		g.Expect(err).ToNot(HaveOccurred())

		_, err = l.Record(ctx, first)
		g.Expect(err).ToNot(HaveOccurred())
		stored, err := l.Record(ctx, second)
		g.Expect(err).ToNot(HaveOccurred())
		g.Expect(stored.ID).To(Equal(first.ID))
	})

	t.Run("lookup missing", func(t *testing.T) {
		g := NewWithT(t)
		_, err := l.Lookup(ctx, "no-such-signature-"+suffix)
		g.Expect(err).To(MatchError(ErrNotFound))
	})

	t.Run("list and count by machine", func(t *testing.T) {
		g := NewWithT(t)
		base := time.Now().UTC().Truncate(time.Millisecond)
		for i := 0; i < 3; i++ {
			rec, err := NewRecord(testLicense(machineB, fmt.Sprintf("sig-b-%d-%s", i, suffix)))
			g.Expect(err).ToNot(HaveOccurred())
			rec.RecordedAt = base.Add(time.Duration(i) * time.Second)
			_, err = l.Record(ctx, rec)
			g.Expect(err).ToNot(HaveOccurred())
		}

		recs, err := l.ListByMachine(ctx, machineB)
		g.Expect(err).ToNot(HaveOccurred())
		g.Expect(recs).To(HaveLen(3))
		for i, rec := range recs {
			g.Expect(rec.Signature).To(Equal(fmt.Sprintf("sig-b-%d-%s", i, suffix)))
		}

		count, err := l.Count(ctx, machineB)
		g.Expect(err).ToNot(HaveOccurred())
		g.Expect(count).To(Equal(3))

		count, err = l.Count(ctx, "unknown-"+suffix)
		g.Expect(err).ToNot(HaveOccurred())
		g.Expect(count).To(BeZero())
	})
}
