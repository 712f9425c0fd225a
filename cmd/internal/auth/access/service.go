package access

import (
	"context"
	"strings"
	"time"
)

// Service validates handshake credentials.
//
// Token verification is always performed. When a SessionStore is configured the
// backing session is also checked, so logout and revocation take effect before
// the access token expires.
type Service struct {
	tokens TokenManager
	store  SessionStore
}

// NewService constructs a Service. store may be nil for stateless verification.
func NewService(tokens TokenManager, store SessionStore) *Service {
	return &Service{tokens: tokens, store: store}
}

// SessionChecking reports whether the service consults a session store.
func (s *Service) SessionChecking() bool {
	return s != nil && s.store != nil
}

// ValidateAccessToken verifies token and returns the caller's claims.
func (s *Service) ValidateAccessToken(ctx context.Context, token string, now time.Time) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, ErrMissingToken
	}
	// Sanity bound against pathological inputs.
	if len(token) > 8192 {
		return Claims{}, ErrInvalidToken
	}

	claims, err := s.tokens.Verify(token, now)
	if err != nil {
		return Claims{}, err
	}
	if s.store == nil {
		return claims, nil
	}

	if claims.SessionID == "" {
		return Claims{}, ErrInvalidToken
	}
	if err := ctx.Err(); err != nil {
		return Claims{}, err
	}

	row, err := s.store.GetByID(ctx, claims.SessionID)
	if err != nil {
		return Claims{}, err
	}
	if row.UserID != claims.UserID {
		return Claims{}, ErrInvalidToken
	}
	if row.RevokedAt != nil || row.ReplacedBySessionID != nil {
		return Claims{}, ErrSessionRevoked
	}
	if !row.ExpiresAt.After(now) {
		return Claims{}, ErrSessionExpired
	}
	return claims, nil
}
