package trigger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"stock_notifier/internal/lib/logger/sl"
	"stock_notifier/internal/models"
	"stock_notifier/internal/monitor"
)

var ErrRunFailed = errors.New("monitoring run failed")

type Runner interface {
	RunMonitoringCycle(ctx context.Context) (models.RunReport, error)
}

type Consumer interface {
	Consume(ctx context.Context, handler func(ctx context.Context, body []byte) error) error
}

// Request is the optional body of a trigger message.
type Request struct {
	RequestedBy string `json:"requested_by,omitempty"`
}

// Trigger starts a monitoring run for each message of the trigger queue.
type Trigger struct {
	log    *slog.Logger
	runner Runner
}

func New(log *slog.Logger, runner Runner) *Trigger {
	return &Trigger{
		log:    log,
		runner: runner,
	}
}

func (t *Trigger) Run(ctx context.Context, consumer Consumer) error {
	return consumer.Consume(ctx, t.handleMessage)
}

// handleMessage returns an error only for transiently failed runs, so the
// broker redelivers them. Skipped runs are acked since another run is in
// progress; configuration failures are acked too, a redelivery would fail the
// same way and the scheduler keeps retrying on its own cadence.
func (t *Trigger) handleMessage(ctx context.Context, body []byte) error {
	const op = "trigger.handleMessage"

	log := t.log.With(slog.String("op", op))

	var req Request
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			log.Warn("dropping malformed trigger message", sl.Err(err))
			return nil
		}
	}

	report, err := t.runner.RunMonitoringCycle(ctx)
	if err != nil {
		if monitor.IsConfigurationError(err) {
			log.Error("triggered run failed on configuration, not requeueing",
				slog.String("run_id", report.RunID),
				sl.Err(err),
			)
			return nil
		}
		return fmt.Errorf("%s: %w: %w", op, ErrRunFailed, err)
	}

	log.Info("triggered run finished",
		slog.String("run_id", report.RunID),
		slog.String("state", string(report.State)),
		slog.String("requested_by", req.RequestedBy),
	)

	return nil
}
