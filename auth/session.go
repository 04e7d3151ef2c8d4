package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

var (
	ErrBadCredentials  = errors.New("invalid credentials")
	ErrUnauthenticated = errors.New("unauthenticated")
)

// Session is the identity attached to a request after token verification. It
// is what the relay trusts: the permission decision itself already happened
// when the token was issued.
type Session struct {
	UserID   string
	UserName string
}

type sessionKeyType struct{}

var sessionKey sessionKeyType

func ContextWithSession(ctx context.Context, session Session) context.Context {
	return context.WithValue(ctx, sessionKey, session)
}

func SessionFromContext(ctx context.Context) (Session, bool) {
	session, ok := ctx.Value(sessionKey).(Session)
	return session, ok
}

func SessionFromRequest(r *http.Request) Session {
	session, _ := SessionFromContext(r.Context())
	return session
}

// TokenFromRequest extracts a bearer token from the Authorization header, or
// falls back to the "token" query parameter for websocket upgrades, where
// browsers cannot set headers.
func TokenFromRequest(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// Middleware verifies the request token and attaches the session to the
// request context. Requests without a valid token are rejected.
func Middleware(options TokenOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r)
			if token == "" {
				http.Error(w, ErrUnauthenticated.Error(), http.StatusUnauthorized)
				return
			}
			claims, err := VerifyToken(token, options)
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}
			session := Session{UserID: claims.UserID, UserName: claims.UserName}
			next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), session)))
		})
	}
}
