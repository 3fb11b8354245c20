package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"stock_notifier/internal/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type blockingRunner struct {
	mu      sync.Mutex
	calls   int
	started chan struct{}
	release chan struct{}
}

func (r *blockingRunner) RunMonitoringCycle(ctx context.Context) (models.RunReport, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()

	r.started <- struct{}{}
	select {
	case <-r.release:
	case <-ctx.Done():
	}
	return models.RunReport{State: models.RunCompleted}, nil
}

func TestNewRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name, schedule, tz string
	}{
		{name: "bad schedule", schedule: "every five minutes"},
		{name: "bad timezone", schedule: "@every 5m", tz: "Mars/Olympus"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(discardLogger(), &blockingRunner{}, tt.schedule, tt.tz); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestNextUsesDefaultSchedule(t *testing.T) {
	s, err := New(discardLogger(), &blockingRunner{}, "", "Asia/Tokyo")
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	s.Start(context.Background())
	defer s.Stop()

	next := s.Next()
	if d := time.Until(next); d <= 0 || d > 5*time.Minute+time.Second {
		t.Fatalf("next run in %v, want within 5m", d)
	}
}

func TestTickSkipsOverlappingRun(t *testing.T) {
	runner := &blockingRunner{started: make(chan struct{}, 2), release: make(chan struct{})}
	s, err := New(discardLogger(), runner, "@every 1h", "")
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	done := make(chan struct{})
	go func() {
		s.tick()
		close(done)
	}()
	<-runner.started

	// Returns immediately while the first tick is still running.
	s.tick()

	close(runner.release)
	<-done

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if runner.calls != 1 {
		t.Fatalf("runner calls = %d, want 1", runner.calls)
	}
}
