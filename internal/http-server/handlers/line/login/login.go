package lineLogin

import (
	"log/slog"
	"net/http"
	"strings"

	resp "stock_notifier/internal/lib/api/response"
	"stock_notifier/internal/lib/logger/sl"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

type StateSigner interface {
	Sign(userID string) (string, error)
}

type AuthURLBuilder interface {
	AuthCodeURL(state string) string
}

// New redirects the browser to LINE Login for the user_id query parameter.
func New(
	log *slog.Logger,
	signer StateSigner,
	auth AuthURLBuilder,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.line.login.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
		if userID == "" {
			log.Info("Missing user_id")

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.Error("user_id is required"))

			return
		}

		state, err := signer.Sign(userID)
		if err != nil {
			log.Error("Failed to sign state", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		http.Redirect(w, r, auth.AuthCodeURL(state), http.StatusFound)
	}
}
