package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/MrEthical07/authgate"
)

// SessionValidator is the part of authgate.Engine the guard needs.
type SessionValidator interface {
	ValidateSession(ctx context.Context, accessToken string) (*authgate.SessionInfo, error)
}

type sessionContextKey struct{}
type tokenContextKey struct{}

// SessionFromContext returns the session validated by Guard.
func SessionFromContext(ctx context.Context) (*authgate.SessionInfo, bool) {
	info, ok := ctx.Value(sessionContextKey{}).(*authgate.SessionInfo)
	return info, ok
}

// AccessTokenFromContext returns the bearer token Guard accepted.
func AccessTokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(tokenContextKey{}).(string)
	return token, ok && token != ""
}

// Guard rejects requests without a bearer token for a live session.
// Backend failures answer 503 so clients can tell them from a bad token.
func Guard(engine SessionValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := BearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			info, err := engine.ValidateSession(r.Context(), token)
			if err != nil {
				if errors.Is(err, authgate.ErrBackendUnavailable) {
					http.Error(w, "service unavailable", http.StatusServiceUnavailable)
					return
				}
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), sessionContextKey{}, info)
			ctx = context.WithValue(ctx, tokenContextKey{}, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientMeta copies the caller address and User-Agent into the request
// context so issued sessions and audit events carry them.
func ClientMeta(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if ip := clientIP(r.RemoteAddr); ip != "" {
			ctx = authgate.WithClientIP(ctx, ip)
		}
		if ua := r.UserAgent(); ua != "" {
			ctx = authgate.WithUserAgent(ctx, ua)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return strings.TrimSpace(remoteAddr)
	}
	return host
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
