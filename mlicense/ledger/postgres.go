package ledger

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultPostgresTable = "mlicense_issuances"

// validIdentifier matches safe PostgreSQL identifiers (letters, digits, underscores).
var validIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresOption configures a PostgresLedger.
type PostgresOption func(*PostgresLedger)

// WithTableName sets the PostgreSQL table name. Default: "mlicense_issuances".
func WithTableName(name string) PostgresOption {
	return func(l *PostgresLedger) {
		l.tableName = name
	}
}

// PostgresLedger implements Ledger using PostgreSQL.
type PostgresLedger struct {
	pool      *pgxpool.Pool
	tableName string
	ownsPool  bool
}

// NewPostgresLedger creates a PostgreSQL-backed ledger on a caller-managed
// pool. It creates the table and indexes on initialization.
func NewPostgresLedger(ctx context.Context, pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresLedger, error) {
	l := &PostgresLedger{
		pool:      pool,
		tableName: defaultPostgresTable,
	}
	for _, opt := range opts {
		opt(l)
	}
	if !validIdentifier.MatchString(l.tableName) {
		return nil, fmt.Errorf("invalid table name %q: must match [a-zA-Z_][a-zA-Z0-9_]*", l.tableName)
	}
	if err := l.ensureTable(ctx); err != nil {
		return nil, fmt.Errorf("create table: %w", err)
	}
	return l, nil
}

func openPostgres(ctx context.Context, dsn string) (*PostgresLedger, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	l, err := NewPostgresLedger(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	l.ownsPool = true
	return l, nil
}

func (l *PostgresLedger) ensureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id          UUID PRIMARY KEY,
			machine_id  TEXT NOT NULL,
			username    TEXT NOT NULL DEFAULT '',
			issued_at   TEXT NOT NULL DEFAULT '',
			expires_at  TEXT NOT NULL DEFAULT '',
			signature   TEXT NOT NULL UNIQUE,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_%s_machine_recorded
			ON %s (machine_id, recorded_at);
	`, l.tableName, l.tableName, l.tableName)
	_, err := l.pool.Exec(ctx, query)
	return err
}

const recordColumns = "id, machine_id, username, issued_at, expires_at, signature, recorded_at"

func scanRecord(row pgx.Row) (*IssuanceRecord, error) {
	var rec IssuanceRecord
	err := row.Scan(&rec.ID, &rec.MachineID, &rec.Username, &rec.IssuedAt,
		&rec.ExpiresAt, &rec.Signature, &rec.RecordedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Record inserts rec, or returns the existing record when the signature
// is already stored.
func (l *PostgresLedger) Record(ctx context.Context, rec IssuanceRecord) (*IssuanceRecord, error) {
	// The no-op update makes RETURNING yield the stored row on conflict.
	query := fmt.Sprintf(`
		INSERT INTO %[1]s (%[2]s)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (signature) DO UPDATE SET signature = %[1]s.signature
		RETURNING %[2]s
	`, l.tableName, recordColumns)

	stored, err := scanRecord(l.pool.QueryRow(ctx, query,
		rec.ID, rec.MachineID, rec.Username, rec.IssuedAt, rec.ExpiresAt, rec.Signature, rec.RecordedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("record issuance: %w", err)
	}
	return stored, nil
}

// Lookup returns the record with the given signature, or ErrNotFound.
func (l *PostgresLedger) Lookup(ctx context.Context, signature string) (*IssuanceRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE signature = $1`, recordColumns, l.tableName)
	rec, err := scanRecord(l.pool.QueryRow(ctx, query, signature))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup issuance: %w", err)
	}
	return rec, nil
}

// ListByMachine returns the records for machineID, oldest first.
func (l *PostgresLedger) ListByMachine(ctx context.Context, machineID string) ([]IssuanceRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s WHERE machine_id = $1 ORDER BY recorded_at, id
	`, recordColumns, l.tableName)

	rows, err := l.pool.Query(ctx, query, machineID)
	if err != nil {
		return nil, fmt.Errorf("list issuances: %w", err)
	}
	defer rows.Close()

	var recs []IssuanceRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan issuance: %w", err)
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

// Count returns how many licenses were recorded for machineID.
func (l *PostgresLedger) Count(ctx context.Context, machineID string) (int, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE machine_id = $1`, l.tableName)
	var count int
	if err := l.pool.QueryRow(ctx, query, machineID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count issuances: %w", err)
	}
	return count, nil
}

// Close releases the pool when the ledger opened it.
func (l *PostgresLedger) Close(_ context.Context) error {
	if l.ownsPool {
		l.pool.Close()
	}
	return nil
}
