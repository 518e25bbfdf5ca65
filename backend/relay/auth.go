package relay

import (
	"net/http"
	"strings"

	"district-relay/backend/pkg/apierr"
)

// Authenticator resolves the user_id behind an inbound request. The
// identity provider's verification flow is an external collaborator (spec
// §6 non-goal); this interface is the narrow seam the relay depends on
// instead of embedding that flow.
type Authenticator interface {
	Authenticate(r *http.Request) (userID string, err error)
}

// BearerTokenAuthenticator is a minimal authenticator for local/dev use: it
// treats the bearer token itself as the user_id. A production deployment
// supplies its own Authenticator that validates against the real identity
// provider.
type BearerTokenAuthenticator struct{}

func (BearerTokenAuthenticator) Authenticate(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) || len(header) <= len(prefix) {
		return "", apierr.New(apierr.KindUnauthorized, "missing or malformed bearer token")
	}
	return strings.TrimPrefix(header, prefix), nil
}
