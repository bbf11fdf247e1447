package ledger

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresStore persists attestation chains to PostgreSQL. It implements
// Store. Inserts for a subject are serialized with a transaction-scoped
// advisory lock keyed on the subject id, so concurrent appends to the same
// chain cannot race the duplicate check while appends to other subjects
// proceed in parallel.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// subjectLockKey maps a subject id to a stable advisory lock key.
func subjectLockKey(subjectID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(subjectID)) //nolint:errcheck
	return int64(h.Sum64())
}

// Insert implements Store.
func (s *PostgresStore) Insert(ctx context.Context, att *Attestation) (AppendOutcome, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Serialize concurrent appends to this subject's chain. The lock is
	// released when the transaction commits or rolls back.
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", subjectLockKey(att.SubjectID)); err != nil {
		return 0, fmt.Errorf("acquire subject lock: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`INSERT INTO attestations (
			fingerprint, witness_id, subject_id, task, evidence,
			timestamp, signature, witness_pubkey, revoked, revoked_reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false, '')
		ON CONFLICT (fingerprint) DO NOTHING`,
		att.Fingerprint, att.WitnessID, att.SubjectID, att.Task, att.Evidence,
		att.Timestamp, att.Signature, att.WitnessPubKey,
	)
	if err != nil {
		return 0, fmt.Errorf("insert attestation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return Duplicate, nil
	}

	if err := tx.QueryRow(ctx,
		`SELECT seq FROM attestations WHERE fingerprint = $1`, att.Fingerprint,
	).Scan(&att.Seq); err != nil {
		return 0, fmt.Errorf("read assigned seq: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit attestation tx: %w", err)
	}

	s.logger.Debug("attestation inserted",
		zap.String("fingerprint", att.Fingerprint),
		zap.String("subject_id", att.SubjectID),
		zap.Int64("seq", att.Seq),
	)
	return Inserted, nil
}

// Chain implements Store.
func (s *PostgresStore) Chain(ctx context.Context, subjectID string, includeRevoked bool) ([]*Attestation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT fingerprint, witness_id, subject_id, task, evidence,
		        timestamp, signature, witness_pubkey, seq, revoked, revoked_reason
		 FROM attestations
		 WHERE subject_id = $1 AND (revoked = false OR $2)
		 ORDER BY timestamp ASC, seq ASC`,
		subjectID, includeRevoked,
	)
	if err != nil {
		return nil, fmt.Errorf("query chain: %w", err)
	}
	defer rows.Close()
	return scanAttestations(rows)
}

// Revoke implements Store.
func (s *PostgresStore) Revoke(ctx context.Context, fp, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE attestations SET revoked = true, revoked_reason = $2 WHERE fingerprint = $1`,
		fp, reason,
	)
	if err != nil {
		return fmt.Errorf("revoke attestation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// All implements Store.
func (s *PostgresStore) All(ctx context.Context, includeRevoked bool) ([]*Attestation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT fingerprint, witness_id, subject_id, task, evidence,
		        timestamp, signature, witness_pubkey, seq, revoked, revoked_reason
		 FROM attestations
		 WHERE (revoked = false OR $1)
		 ORDER BY timestamp ASC, seq ASC`,
		includeRevoked,
	)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()
	return scanAttestations(rows)
}

// Version implements Store. The value moves whenever a row is inserted
// (max seq grows) or revoked (revoked count grows).
func (s *PostgresStore) Version(ctx context.Context) (int64, error) {
	var v int64
	if err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) + COUNT(*) FILTER (WHERE revoked) FROM attestations`,
	).Scan(&v); err != nil {
		return 0, fmt.Errorf("read ledger version: %w", err)
	}
	return v, nil
}

func scanAttestations(rows pgx.Rows) ([]*Attestation, error) {
	var out []*Attestation
	for rows.Next() {
		att := &Attestation{}
		if err := rows.Scan(
			&att.Fingerprint, &att.WitnessID, &att.SubjectID, &att.Task, &att.Evidence,
			&att.Timestamp, &att.Signature, &att.WitnessPubKey, &att.Seq, &att.Revoked, &att.RevokedReason,
		); err != nil {
			return nil, fmt.Errorf("scan attestation: %w", err)
		}
		att.Timestamp = att.Timestamp.UTC()
		out = append(out, att)
	}
	return out, rows.Err()
}
