package authMiddlware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	resp "stock_notifier/internal/lib/api/response"

	"github.com/go-chi/render"
)

// AuthMiddleware requires "Authorization: Bearer <token>" matching apiToken.
// An empty apiToken disables the check.
func AuthMiddleware(apiToken string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if apiToken == "" {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, resp.Error("Missing authorization"))
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" ||
				subtle.ConstantTimeCompare([]byte(parts[1]), []byte(apiToken)) != 1 {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, resp.Error("Invalid token"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
