package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	goLogin "github.com/MrEthical07/goLogin"
)

type claimsContextKey struct{}

// ClaimsFromContext returns the claims stored by RequireAccess.
func ClaimsFromContext(ctx context.Context) (*goLogin.AccessClaims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*goLogin.AccessClaims)
	return claims, ok
}

// RequireAccess rejects requests without a valid bearer access token.
func RequireAccess(engine *goLogin.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := engine.ValidateAccess(token)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole must run after RequireAccess.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			for _, have := range claims.Roles {
				if have == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			http.Error(w, "forbidden", http.StatusForbidden)
		})
	}
}

// ClientInfo attaches the remote IP and User-Agent for the Engine's admission
// windows and events. It trusts r.RemoteAddr; run it behind a middleware
// that rewrites RemoteAddr when a proxy sits in front.
func ClientInfo(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		ctx := goLogin.WithClientIP(r.Context(), host)
		ctx = goLogin.WithUserAgent(ctx, r.UserAgent())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(value string) (string, bool) {
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
