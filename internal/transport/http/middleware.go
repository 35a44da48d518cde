package http

import (
	"context"
	"net/http"
	"strings"

	"horizon-portal/internal/app"
	"horizon-portal/internal/domain"
)

type authCtxKey int

const (
	identityKey authCtxKey = iota
	sessionKey
)

// Authenticator resolves bearer tokens; *app.ClientService implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (domain.Identity, string, error)
}

var _ Authenticator = (*app.ClientService)(nil)

// WithAuth attaches the caller's identity when the request carries a valid
// bearer token. Websocket clients may pass it as the token query parameter.
func WithAuth(auth Authenticator, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := bearerToken(r)
		if tok == "" {
			next.ServeHTTP(w, r)
			return
		}
		id, sessionID, err := auth.Authenticate(r.Context(), tok)
		if err != nil {
			writeError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), identityKey, id)
		ctx = context.WithValue(ctx, sessionKey, sessionID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return r.URL.Query().Get("token")
}

// IdentityFrom returns the request identity; the zero Identity is rejected by every service call.
func IdentityFrom(ctx context.Context) domain.Identity {
	id, _ := ctx.Value(identityKey).(domain.Identity)
	return id
}

func sessionFrom(ctx context.Context) string {
	s, _ := ctx.Value(sessionKey).(string)
	return s
}
