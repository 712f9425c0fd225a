package access

import (
	"context"
	"time"
)

// SessionRow is the subset of a login session row needed to honor revocation.
type SessionRow struct {
	ID                  string
	UserID              string
	ExpiresAt           time.Time
	RevokedAt           *time.Time
	ReplacedBySessionID *string
}

// SessionStore loads login sessions by id. It is read-only from the relay's perspective.
type SessionStore interface {
	GetByID(ctx context.Context, sessionID string) (SessionRow, error)
}
