package middleware

import (
	"context"
	"net/http"

	authzero "github.com/trisongz/authzero"
)

type identityContextKey struct{}

// IdentityFromContext returns the identity a Guard stored on the request
// context.
func IdentityFromContext(ctx context.Context) (*authzero.Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(*authzero.Identity)
	return id, ok
}

// Guard resolves the request's credentials and rejects the request when
// resolution fails or the identity sits below the required role. RoleAnon
// accepts any resolved identity. Session cookies are refreshed on the way
// out.
func Guard(resolver *authzero.Resolver, required authzero.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if resolver == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			id, err := resolver.Resolve(r.Context(), authzero.FromHTTP(r))
			if err != nil {
				http.Error(w, err.Error(), authzero.StatusFor(err))
				return
			}
			if err := id.RequireRole(required); err != nil {
				http.Error(w, err.Error(), authzero.StatusFor(err))
				return
			}
			if cookie := id.SessionCookie(false); cookie != nil {
				http.SetCookie(w, cookie)
			}

			ctx := context.WithValue(r.Context(), identityContextKey{}, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScopes wraps a handler already behind a Guard and additionally
// demands every listed scope.
func RequireScopes(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if err := id.RequireScopes(scopes...); err != nil {
				http.Error(w, err.Error(), authzero.StatusFor(err))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
