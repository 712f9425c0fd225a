package access

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"studytracker/cmd/internal/ids"
)

// Integration tests are enabled when TRACKER_TEST_DATABASE_URL is set.
// Each test works in a throwaway schema so no migrations are needed.

func TestPostgresSessionStore_GetByID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	pool, schema := mustSessionSchema(ctx, t)

	store, err := NewPostgresSessionStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("NewPostgresSessionStore: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	mustInsertSession(ctx, t, pool, schema, "s-active", "alice", now.Add(time.Hour), nil)
	revokedAt := now.Add(-time.Minute)
	mustInsertSession(ctx, t, pool, schema, "s-revoked", "alice", now.Add(time.Hour), &revokedAt)

	row, err := store.GetByID(ctx, "s-active")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if row.UserID != "alice" || row.RevokedAt != nil || row.ReplacedBySessionID != nil {
		t.Fatalf("unexpected row: %+v", row)
	}
	if !row.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("expires_at mismatch: %v", row.ExpiresAt)
	}

	row, err = store.GetByID(ctx, "s-revoked")
	if err != nil {
		t.Fatalf("GetByID revoked: %v", err)
	}
	if row.RevokedAt == nil {
		t.Fatalf("expected revoked_at to be set")
	}

	if _, err := store.GetByID(ctx, "s-missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := store.GetByID(ctx, "  "); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound for blank id, got %v", err)
	}
}

func TestPostgresSessionStore_ServiceRejectsRevoked(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	pool, schema := mustSessionSchema(ctx, t)

	store, err := NewPostgresSessionStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("NewPostgresSessionStore: %v", err)
	}
	cfg, _ := newPasetoCfg(t)
	tokens, err := NewTokenManager(cfg)
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}
	svc := NewService(tokens, store)

	now := time.Now().UTC()
	revokedAt := now.Add(-time.Second)
	mustInsertSession(ctx, t, pool, schema, "s-revoked", "alice", now.Add(time.Hour), &revokedAt)

	tok, _, err := tokens.Issue("alice", "s-revoked", now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := svc.ValidateAccessToken(ctx, tok, now); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected ErrSessionRevoked, got %v", err)
	}
}

func TestWithSchema_RejectsBadIdentifiers(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"", "  ", "1abc", "bad-name", "x;drop"} {
		st := &PostgresSessionStore{}
		if err := WithSchema(s)(st); err == nil {
			t.Fatalf("expected error for schema %q", s)
		}
	}
	if _, err := NewPostgresSessionStore(nil); err == nil {
		t.Fatalf("expected error for nil pool")
	}
}

func mustSessionSchema(ctx context.Context, t *testing.T) (*pgxpool.Pool, string) {
	t.Helper()

	dbURL := os.Getenv("TRACKER_TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TRACKER_TEST_DATABASE_URL is not set; skipping Postgres integration test")
	}

	cfg, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		t.Fatalf("pgxpool.ParseConfig: %v", err)
	}
	cfg.MaxConns = 2
	cfg.MinConns = 0
	cfg.MaxConnLifetime = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("pgxpool.NewWithConfig: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		if shouldSkipIntegration(err) {
			t.Skipf("integration test skipped: Postgres unreachable: %v", err)
		}
		t.Fatalf("pool.Ping: %v", err)
	}

	schema := "tracker_test_" + strings.ToLower(ids.MustULID(time.Now()))
	ident := pgx.Identifier{schema}.Sanitize()
	sessions := pgx.Identifier{schema, "sessions"}.Sanitize()

	if _, err := pool.Exec(ctx, `CREATE SCHEMA `+ident); err != nil {
		pool.Close()
		t.Fatalf("create schema: %v", err)
	}
	if _, err := pool.Exec(ctx, `
		CREATE TABLE `+sessions+` (
			id text PRIMARY KEY,
			user_id text NOT NULL,
			expires_at timestamptz NOT NULL,
			revoked_at timestamptz,
			replaced_by_session_id text
		)
	`); err != nil {
		pool.Close()
		t.Fatalf("create sessions: %v", err)
	}

	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DROP SCHEMA `+ident+` CASCADE`)
		pool.Close()
	})
	return pool, schema
}

func mustInsertSession(ctx context.Context, t *testing.T, pool *pgxpool.Pool, schema, id, userID string, expiresAt time.Time, revokedAt *time.Time) {
	t.Helper()

	_, err := pool.Exec(ctx, `
		INSERT INTO `+pgx.Identifier{schema, "sessions"}.Sanitize()+` (id, user_id, expires_at, revoked_at)
		VALUES ($1, $2, $3, $4)
	`, id, userID, expiresAt, revokedAt)
	if err != nil {
		t.Fatalf("insert session: %v", err)
	}
}

func shouldSkipIntegration(err error) bool {
	if err == nil {
		return false
	}
	if os.Getenv("CI") != "" {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "dial tcp") ||
		strings.Contains(msg, "no such host")
}
