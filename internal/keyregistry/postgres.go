package keyregistry

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresStore persists agent keys to PostgreSQL. It implements Store.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// Put implements Store.
func (s *PostgresStore) Put(ctx context.Context, agentID string, pub ed25519.PublicKey, expectEmpty bool) error {
	encoded := hex.EncodeToString(pub)

	if expectEmpty {
		tag, err := s.pool.Exec(ctx,
			`INSERT INTO agents (agent_id, public_key)
			 VALUES ($1, $2)
			 ON CONFLICT (agent_id) DO NOTHING`,
			agentID, encoded,
		)
		if err != nil {
			return fmt.Errorf("insert agent key: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrDuplicateAgent
		}
		return nil
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE agents SET public_key = $2, rotated_at = now() WHERE agent_id = $1`,
		agentID, encoded,
	)
	if err != nil {
		return fmt.Errorf("rotate agent key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUnknownAgent
	}
	s.logger.Info("agent key rotated", zap.String("agent_id", agentID))
	return nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, agentID string) (ed25519.PublicKey, error) {
	var encoded string
	err := s.pool.QueryRow(ctx,
		`SELECT public_key FROM agents WHERE agent_id = $1`, agentID,
	).Scan(&encoded)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUnknownAgent
	}
	if err != nil {
		return nil, fmt.Errorf("get agent key: %w", err)
	}

	raw, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("stored key for %s is not valid hex: %w", agentID, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("stored key for %s is %d bytes, want %d", agentID, len(raw), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}

// Count implements Store.
func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM agents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count agents: %w", err)
	}
	return n, nil
}
