package access

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,62}$`)

// PostgresSessionStore reads <schema>.sessions.
//
// It does NOT own the pool; the caller closes it.
type PostgresSessionStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresSessionStore behavior.
type PostgresOption func(*PostgresSessionStore) error

// WithSchema sets the DB schema (default: "tracker").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresSessionStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("access: empty schema")
		}
		if !pgIdentRE.MatchString(schema) {
			return errors.New("access: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresSessionStore constructs a session store backed by PostgreSQL.
func NewPostgresSessionStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresSessionStore, error) {
	st := &PostgresSessionStore{pool: pool, schema: "tracker"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("access: nil pool")
	}
	return st, nil
}

// GetByID loads a session row by ID.
func (s *PostgresSessionStore) GetByID(ctx context.Context, sessionID string) (SessionRow, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return SessionRow{}, ErrSessionNotFound
	}

	sessions := pgx.Identifier{s.schema, "sessions"}.Sanitize()

	var row SessionRow
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, expires_at, revoked_at, replaced_by_session_id
		FROM `+sessions+`
		WHERE id = $1
	`, sessionID).Scan(
		&row.ID,
		&row.UserID,
		&row.ExpiresAt,
		&row.RevokedAt,
		&row.ReplacedBySessionID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return SessionRow{}, ErrSessionNotFound
	}
	if err != nil {
		return SessionRow{}, err
	}
	return row, nil
}
