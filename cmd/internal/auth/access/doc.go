// Package access implements the handshake-time Token Verifier for the relay.
//
// Access tokens are issued by the REST layer and are short-lived. Two formats are
// accepted: PASETO v4.public (default) and HS256 JWT. Verification is pure unless
// session checking is enabled, in which case the backing session row is loaded
// from PostgreSQL so that revoked or expired sessions are refused.
//
// Issuing tokens is supported for tests and dev tooling only.
package access
