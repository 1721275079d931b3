package httpapi

import (
	"net/http"
	"strings"

	"github.com/kernelgateway/kgatewayd/internal/config"
)

// CORS applies the configured Access-Control-* headers to every response
// and short-circuits preflight OPTIONS requests.
func CORS(settings *config.Settings) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			if settings.AllowOrigin != "" {
				h.Set("Access-Control-Allow-Origin", settings.AllowOrigin)
			}
			if settings.AllowCredentials != "" {
				h.Set("Access-Control-Allow-Credentials", settings.AllowCredentials)
			}
			if settings.AllowHeaders != "" {
				h.Set("Access-Control-Allow-Headers", settings.AllowHeaders)
			}
			if settings.AllowMethods != "" {
				h.Set("Access-Control-Allow-Methods", settings.AllowMethods)
			}
			if settings.ExposeHeaders != "" {
				h.Set("Access-Control-Expose-Headers", settings.ExposeHeaders)
			}
			if settings.MaxAge != "" {
				h.Set("Access-Control-Max-Age", settings.MaxAge)
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// publicPaths never require a token even when one is configured; the
// version probe stays reachable.
var publicPaths = map[string]bool{
	"/":    true,
	"/api": true,
}

// TokenAuth enforces the "Authorization: token <t>" or "?token=" bearer
// scheme when settings.AuthToken is set. A zero-value AuthToken disables
// auth entirely, matching KG_AUTH_TOKEN's empty default.
func TokenAuth(settings *config.Settings) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if settings.AuthToken == "" || publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			if !tokenMatches(r, settings.AuthToken) {
				WriteError(w, KindAuthMissing, "Token authorization required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func tokenMatches(r *http.Request, want string) bool {
	if got := r.URL.Query().Get("token"); got != "" && got == want {
		return true
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "token ") && strings.TrimPrefix(auth, "token ") == want {
		return true
	}
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == want {
		return true
	}
	return false
}

// XHeaders trusts X-Real-IP / X-Forwarded-For when settings.TrustXHeaders
// is set, for deployments behind a reverse proxy.
func XHeaders(settings *config.Settings) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if settings.TrustXHeaders {
				if ip := r.Header.Get("X-Real-IP"); ip != "" {
					r.RemoteAddr = ip
				} else if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
					r.RemoteAddr = strings.TrimSpace(strings.Split(fwd, ",")[0])
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Chain applies middleware in the given order, outermost first.
func Chain(h http.Handler, mw ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}
