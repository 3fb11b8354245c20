package runTrigger

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	resp "stock_notifier/internal/lib/api/response"
	"stock_notifier/internal/lib/logger/sl"
	"stock_notifier/internal/models"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

type Response struct {
	resp.Response
	Report models.RunReport `json:"report"`
}

type Runner interface {
	RunMonitoringCycle(ctx context.Context) (models.RunReport, error)
}

// New runs one monitoring cycle synchronously. The run outlives a client
// that disconnects mid-request. The response write deadline is pushed out
// to runTimeout, past the server-wide WriteTimeout.
func New(log *slog.Logger, runner Runner, runTimeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.runs.trigger.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		if runTimeout > 0 {
			err := http.NewResponseController(w).SetWriteDeadline(time.Now().Add(runTimeout))
			if err != nil && !errors.Is(err, http.ErrNotSupported) {
				log.Warn("failed to extend write deadline", sl.Err(err))
			}
		}

		report, err := runner.RunMonitoringCycle(context.WithoutCancel(r.Context()))
		if err != nil {
			log.Error("Manual run failed", slog.String("run_id", report.RunID), sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, Response{
				Response: resp.Error("Run failed"),
				Report:   report,
			})

			return
		}

		log.Info("Manual run finished",
			slog.String("run_id", report.RunID),
			slog.String("state", string(report.State)),
		)

		render.JSON(w, r, Response{
			Response: resp.OK(),
			Report:   report,
		})
	}
}
