package middleware

import (
	"net/http"
	"regexp"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketsplit-backend/pkg/logger"
	"github.com/angelmondragon/marketsplit-backend/pkg/svcclient"
)

// Request ids arrive from the storefront, Stripe and sibling services. Only
// short opaque tokens are trusted; anything else is replaced.
var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// RequestID tags the request with an id, echoes it on the response and
// stores it for logging and for forwarding on internal service calls.
func RequestID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get(svcclient.RequestIDHeader)
			if !requestIDPattern.MatchString(reqID) {
				reqID = uuid.NewString()
			}
			w.Header().Set(svcclient.RequestIDHeader, reqID)

			ctx := svcclient.ContextWithRequestID(r.Context(), reqID)
			if logg != nil {
				ctx = logg.WithRequestID(ctx, reqID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
