package lineCallback

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"stock_notifier/internal/lib/logger/sl"
	"stock_notifier/internal/transport/line"

	"github.com/go-chi/chi/middleware"
)

const (
	successPage = `<!doctype html><meta charset="utf-8"><h1>アカウント連携が完了しました</h1><p>チャット画面に戻って会話を続けてください。このページは閉じて構いません。</p>`
	failurePage = `<!doctype html><meta charset="utf-8"><h1>エラーが発生しました</h1><p>アカウント連携に失敗しました。しばらくしてからもう一度お試しください。</p>`
)

type StateParser interface {
	Parse(state string) (string, error)
}

type ProfileFetcher interface {
	Profile(ctx context.Context, code string) (line.Profile, error)
}

type Linker interface {
	Link(ctx context.Context, userID, lineUserID string) error
}

func New(
	log *slog.Logger,
	states StateParser,
	profiles ProfileFetcher,
	linker Linker,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.line.callback.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		q := r.URL.Query()
		if e := q.Get("error"); e != "" {
			log.Info("LINE login declined", slog.String("error", e), slog.String("description", q.Get("error_description")))
			page(w, http.StatusBadRequest, failurePage)
			return
		}

		code := q.Get("code")
		if code == "" {
			log.Info("Missing code")
			page(w, http.StatusBadRequest, failurePage)
			return
		}

		userID, err := states.Parse(q.Get("state"))
		if err != nil {
			log.Info("Invalid state", sl.Err(err))
			page(w, http.StatusBadRequest, failurePage)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		profile, err := profiles.Profile(ctx, code)
		if err != nil {
			log.Error("Failed to fetch LINE profile", sl.Err(err))
			page(w, http.StatusBadGateway, failurePage)
			return
		}

		if err := linker.Link(ctx, userID, profile.UserID); err != nil {
			log.Error("Failed to save mapping", sl.Err(err))
			page(w, http.StatusInternalServerError, failurePage)
			return
		}

		log.Info("LINE account linked", slog.String("user_id", userID))

		page(w, http.StatusOK, successPage)
	}
}

func page(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
