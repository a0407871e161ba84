package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"constancia/pkg/requestcontext"
)

// OperatorValidator validates a bearer token and resolves the operator
// identity behind it. The core only ever sees the resolved identity, never
// session mechanics.
type OperatorValidator interface {
	ValidateToken(tokenString string) (operatorID string, err error)
}

// RequireAuth guards administrative routes behind a bearer JWT. Public
// verification routes are mounted without it.
func RequireAuth(validator OperatorValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := requestcontext.RequestID(ctx)

			authHeader := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestID,
				)
				writeUnauthorized(w)
				return
			}

			operatorID, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestID,
				)
				writeUnauthorized(w)
				return
			}

			ctx = requestcontext.WithOperatorID(ctx, operatorID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"code":"unauthorized","message":"invalid or missing token"}`))
}
