package access

import (
	"time"
)

// Claims is the minimal identity envelope extracted from a verified token.
type Claims struct {
	UserID    string
	SessionID string
	ExpiresAt time.Time
	IssuedAt  time.Time
	Issuer    string
}

// TokenManager verifies access tokens of one format and, when keyed for it, issues them.
type TokenManager interface {
	Issue(userID, sessionID string, now time.Time) (token string, exp time.Time, err error)
	Verify(token string, now time.Time) (Claims, error)
}

// NewTokenManager builds the TokenManager for cfg.Format.
func NewTokenManager(cfg Config) (TokenManager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Format {
	case FormatJWT:
		return NewJWTManager(cfg)
	default:
		return NewPasetoV4PublicManager(cfg)
	}
}
