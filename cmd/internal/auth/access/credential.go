package access

import (
	"net/http"
	"strings"
)

// QueryTokenParam carries the credential for clients that cannot set headers (browsers).
const QueryTokenParam = "access_token"

// BearerFromRequest extracts the handshake credential.
// The Authorization header wins over the query parameter.
func BearerFromRequest(r *http.Request) (string, error) {
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		scheme, tok, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return "", ErrInvalidToken
		}
		tok = strings.TrimSpace(tok)
		if tok == "" {
			return "", ErrMissingToken
		}
		return tok, nil
	}

	if tok := strings.TrimSpace(r.URL.Query().Get(QueryTokenParam)); tok != "" {
		return tok, nil
	}
	return "", ErrMissingToken
}
