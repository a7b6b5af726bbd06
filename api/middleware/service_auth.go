package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/angelmondragon/marketsplit-backend/api/responses"
	pkgAuth "github.com/angelmondragon/marketsplit-backend/pkg/auth"
	pkgerrors "github.com/angelmondragon/marketsplit-backend/pkg/errors"
	"github.com/angelmondragon/marketsplit-backend/pkg/logger"
)

type serviceTokenVerifier interface {
	Verify(tokenString, audience string, scope pkgAuth.Scope) (*pkgAuth.ServiceClaims, error)
}

// RequireServiceScope admits internal callers whose service token targets
// audience and grants scope. End-user tokens are never accepted here.
func RequireServiceScope(tokens serviceTokenVerifier, audience string, scope pkgAuth.Scope, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokens == nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "service token verifier unavailable"))
				return
			}
			raw := strings.TrimSpace(r.Header.Get(pkgAuth.ServiceTokenHeader))
			if raw == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing service credentials"))
				return
			}

			claims, err := tokens.Verify(raw, audience, scope)
			if err != nil {
				if errors.Is(err, pkgAuth.ErrMissingScope) {
					responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeForbidden, err, "scope not granted"))
					return
				}
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid service token"))
				return
			}

			ctx := context.WithValue(r.Context(), ctxService, claims)
			if logg != nil {
				ctx = logg.WithFields(ctx, map[string]any{
					"caller_service": claims.Subject,
					"scope":          string(scope),
				})
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
