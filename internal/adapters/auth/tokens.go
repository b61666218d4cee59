package auth

import (
	"context"
	"crypto/subtle"
	"strings"

	"github.com/bnema/whiteboard-tutor/internal/domain"
	"github.com/bnema/whiteboard-tutor/internal/ports"
)

// TokenAuthenticator resolves static bearer tokens from configuration.
type TokenAuthenticator struct {
	tokens map[string]domain.UserID
}

var _ ports.Authenticator = (*TokenAuthenticator)(nil)

// NewTokenAuthenticator takes token → user id. Blank entries are ignored.
func NewTokenAuthenticator(tokens map[string]string) *TokenAuthenticator {
	out := make(map[string]domain.UserID, len(tokens))
	for token, user := range tokens {
		token = strings.TrimSpace(token)
		user = strings.TrimSpace(user)
		if token == "" || user == "" {
			continue
		}
		out[token] = domain.UserID(user)
	}
	return &TokenAuthenticator{tokens: out}
}

func (a *TokenAuthenticator) Authenticate(_ context.Context, token string) (domain.UserID, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", domain.ErrUnauthorized
	}

	// Every entry is compared so lookup time does not depend on the match.
	var found domain.UserID
	for candidate, user := range a.tokens {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(token)) == 1 {
			found = user
		}
	}
	if found == "" {
		return "", domain.ErrUnauthorized
	}
	return found, nil
}
