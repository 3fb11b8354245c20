package lastRun

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	resp "stock_notifier/internal/lib/api/response"
	"stock_notifier/internal/lib/logger/sl"
	"stock_notifier/internal/models"
	"stock_notifier/internal/storage"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

type Response struct {
	resp.Response
	Report models.RunReport `json:"report"`
}

type ReportGetter interface {
	Report(ctx context.Context) (models.RunReport, error)
}

func New(log *slog.Logger, reports ReportGetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.runs.last.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		report, err := reports.Report(r.Context())
		if errors.Is(err, storage.ErrReportNotFound) {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, resp.Error("No run recorded yet"))

			return
		}
		if err != nil {
			log.Error("Failed to get last report", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		w.Header().Set("Cache-Control", "no-store")

		render.JSON(w, r, Response{
			Response: resp.OK(),
			Report:   report,
		})
	}
}
