package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/RasheedLewis/collab-canvas-sub000/pkg/canvas"
)

// NewAuthMiddleware resolves the caller's identity before the upgrade. The
// token may arrive as a Bearer header, a session-token cookie, or a token
// query parameter (browser WebSocket clients cannot set headers). When
// required is false an anonymous upgrade proceeds; canvas operations will
// still demand an identity.
func NewAuthMiddleware(logger *slog.Logger, verifier canvas.IdentityVerifier, required bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				// Previous middlewares did not run; refuse to guess.
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			tokenString := extractToken(r)
			if tokenString == "" {
				if required {
					logger.Warn("missing identity token", slog.String("ip", reqMeta.IP))
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			identity, err := verifier.VerifyIdentity(r.Context(), tokenString)
			if err != nil {
				logger.Warn("identity verification failed",
					slog.String("ip", reqMeta.IP),
					slog.Any("error", err),
				)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			reqMeta.UserID = identity.UserID
			reqMeta.UserName = identity.Name
			next.ServeHTTP(w, r)
		})
	}
}

func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if cookie, err := r.Cookie("session-token"); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return r.URL.Query().Get("token")
}
