package trigger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"stock_notifier/internal/models"
	"stock_notifier/internal/monitor"
	"stock_notifier/internal/storage"
)

type fakeRunner struct {
	report models.RunReport
	err    error
	calls  int
}

func (r *fakeRunner) RunMonitoringCycle(context.Context) (models.RunReport, error) {
	r.calls++
	return r.report, r.err
}

type fakeConsumer struct {
	bodies [][]byte
	errs   []error
}

func (c *fakeConsumer) Consume(ctx context.Context, handler func(ctx context.Context, body []byte) error) error {
	for _, b := range c.bodies {
		c.errs = append(c.errs, handler(ctx, b))
	}
	return nil
}

func TestHandleMessage(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		report    models.RunReport
		runErr    error
		wantCalls int
		wantErr   bool
	}{
		{name: "completed", body: `{"requested_by":"ops"}`, report: models.RunReport{State: models.RunCompleted}, wantCalls: 1},
		{name: "empty body", body: "", report: models.RunReport{State: models.RunCompleted}, wantCalls: 1},
		{name: "skipped is acked", body: "{}", report: models.RunReport{State: models.RunSkipped}, wantCalls: 1},
		{name: "failed is requeued", body: "{}", report: models.RunReport{State: models.RunFailed}, runErr: errors.New("inventory unavailable"), wantCalls: 1, wantErr: true},
		{name: "malformed is dropped", body: "{not json", wantCalls: 0},
		{name: "missing inventory is acked", body: "{}", report: models.RunReport{State: models.RunFailed}, runErr: fmt.Errorf("monitor.RunMonitoringCycle: inventory: %w", storage.ErrInventoryNotFound), wantCalls: 1},
		{name: "missing headers is acked", body: "{}", report: models.RunReport{State: models.RunFailed}, runErr: fmt.Errorf("inventory: %w: stock @ items", storage.ErrMissingHeaders), wantCalls: 1},
		{name: "unknown intent is acked", body: "{}", report: models.RunReport{State: models.RunFailed}, runErr: fmt.Errorf("match: %w", monitor.ErrUnknownIntent), wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{report: tt.report, err: tt.runErr}
			tr := New(slog.New(slog.NewTextHandler(io.Discard, nil)), runner)
			consumer := &fakeConsumer{bodies: [][]byte{[]byte(tt.body)}}

			if err := tr.Run(context.Background(), consumer); err != nil {
				t.Fatalf("Run error: %v", err)
			}

			if runner.calls != tt.wantCalls {
				t.Fatalf("runner calls = %d, want %d", runner.calls, tt.wantCalls)
			}
			gotErr := consumer.errs[0]
			if (gotErr != nil) != tt.wantErr {
				t.Fatalf("handler err = %v, wantErr %v", gotErr, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(gotErr, ErrRunFailed) {
				t.Fatalf("err = %v, want ErrRunFailed", gotErr)
			}
		})
	}
}
