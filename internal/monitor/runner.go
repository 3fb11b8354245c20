package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sl "stock_notifier/internal/lib/logger/sl"
	"stock_notifier/internal/models"
	"stock_notifier/internal/storage"

	"github.com/google/uuid"
)

const DefaultLockWait = 3 * time.Second

// IsConfigurationError reports failures that repeat on every run until an
// operator fixes the tables or the config.
func IsConfigurationError(err error) bool {
	for _, target := range []error{
		storage.ErrInventoryNotFound,
		storage.ErrMissingHeaders,
		storage.ErrInvalidTableName,
		ErrUnknownIntent,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

type Storage interface {
	Inventory(ctx context.Context) ([]models.Product, error)
	Snapshot(ctx context.Context) (models.Snapshot, error)
	ReplaceSnapshot(ctx context.Context, entries []models.SnapshotEntry) error
	// SnapshotCommitted reports whether any run has replaced the snapshot.
	SnapshotCommitted(ctx context.Context) (bool, error)
	Waiters(ctx context.Context, table string) ([]models.Waiter, error)
	UpdateStatuses(ctx context.Context, table string, updates []models.StatusUpdate) error
}

type Locker interface {
	TryLock(ctx context.Context, wait time.Duration) (release func() error, ok bool, err error)
}

type Publisher interface {
	PublishJSON(ctx context.Context, msg any) error
}

type ReportSaver interface {
	SaveReport(ctx context.Context, report models.RunReport) error
}

type Options struct {
	LockWait time.Duration
	// Events receives one models.NotificationEvent per successful send. Optional.
	Events Publisher
	// Reports keeps the latest completed or failed report. Optional.
	Reports ReportSaver
	Now     func() time.Time
}

type Runner struct {
	log        *slog.Logger
	store      Storage
	locker     Locker
	registry   *Registry
	dispatcher *Dispatcher

	lockWait time.Duration
	events   Publisher
	reports  ReportSaver
	now      func() time.Time
}

func New(
	log *slog.Logger,
	store Storage,
	locker Locker,
	registry *Registry,
	dispatcher *Dispatcher,
	opts Options,
) *Runner {
	if opts.LockWait <= 0 {
		opts.LockWait = DefaultLockWait
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Runner{
		log:        log,
		store:      store,
		locker:     locker,
		registry:   registry,
		dispatcher: dispatcher,
		lockWait:   opts.LockWait,
		events:     opts.Events,
		reports:    opts.Reports,
		now:        opts.Now,
	}
}

// RunMonitoringCycle performs one full scan. Overlapping calls are
// serialized by the lock; a call that cannot get it in time is skipped and
// returns a skipped report with a nil error.
//
// The snapshot is read once before any intent and written once after all of
// them, whatever the dispatch outcomes were. It records what was observed,
// not who was told.
func (r *Runner) RunMonitoringCycle(ctx context.Context) (models.RunReport, error) {
	const op = "monitor.RunMonitoringCycle"

	report := models.RunReport{
		RunID:     uuid.NewString(),
		StartedAt: r.now(),
	}

	log := r.log.With(
		slog.String("op", op),
		slog.String("run_id", report.RunID),
	)

	release, ok, err := r.locker.TryLock(ctx, r.lockWait)
	if err != nil {
		return r.fail(ctx, log, report, fmt.Errorf("%s: lock: %w", op, err))
	}
	if !ok {
		log.Info("another run in progress; skip")
		report.State = models.RunSkipped
		report.FinishedAt = r.now()
		return report, nil
	}
	defer func() {
		if err := release(); err != nil {
			log.Warn("failed to release run lock", sl.Err(err))
		}
	}()

	// Snapshot entries written at the end carry the time inventory was read.
	observedAt := r.now()

	inventory, err := r.store.Inventory(ctx)
	if err != nil {
		return r.fail(ctx, log, report, fmt.Errorf("%s: inventory: %w", op, err))
	}

	snapshot, err := r.store.Snapshot(ctx)
	if err != nil {
		return r.fail(ctx, log, report, fmt.Errorf("%s: snapshot: %w", op, err))
	}

	committed, err := r.store.SnapshotCommitted(ctx)
	if err != nil {
		return r.fail(ctx, log, report, fmt.Errorf("%s: snapshot state: %w", op, err))
	}
	// Entries left by a deployment that predates the commit marker count too.
	firstRun := !committed && len(snapshot) == 0

	log.Info("run started",
		slog.Int("products", len(inventory)),
		slog.Int("snapshot_entries", len(snapshot)),
		slog.Bool("first_run", firstRun),
	)

	for _, policy := range r.registry.Policies() {
		ir, err := r.processIntent(ctx, log, report.RunID, policy, inventory, snapshot, firstRun)
		report.Intents = append(report.Intents, ir)
		if err != nil {
			return r.fail(ctx, log, report, fmt.Errorf("%s: %s: %w", op, policy.Intent, err))
		}
	}

	if err := r.store.ReplaceSnapshot(ctx, BuildSnapshot(inventory, observedAt)); err != nil {
		return r.fail(ctx, log, report, fmt.Errorf("%s: snapshot commit: %w", op, err))
	}

	report.State = models.RunCompleted
	report.FinishedAt = r.now()
	r.saveReport(ctx, log, report)

	log.Info("run finished successfully", slog.Duration("took", report.FinishedAt.Sub(report.StartedAt)))

	return report, nil
}

func (r *Runner) processIntent(
	ctx context.Context,
	log *slog.Logger,
	runID string,
	policy Policy,
	inventory []models.Product,
	snapshot models.Snapshot,
	firstRun bool,
) (models.IntentReport, error) {
	ir := models.IntentReport{Intent: policy.Intent}

	log = log.With(slog.String("intent", string(policy.Intent)))

	waiters, err := r.store.Waiters(ctx, policy.WaitlistTable)
	if err != nil {
		return ir, fmt.Errorf("waitlist %s: %w", policy.WaitlistTable, err)
	}
	ir.Waiters = len(waiters)
	for _, w := range waiters {
		if w.IsPending() {
			ir.Pending++
		}
	}

	log.Info("checking waitlist",
		slog.String("table", policy.WaitlistTable),
		slog.Int("waiters", ir.Waiters),
		slog.Int("pending", ir.Pending),
	)

	items, err := Match(log, policy, waiters, inventory, snapshot, firstRun)
	if err != nil {
		return ir, err
	}
	ir.Selected = len(items)

	if len(items) == 0 {
		log.Info("no items to notify")
		return ir, nil
	}

	log.Info("sending notifications", slog.Int("count", len(items)))

	sent := make([]models.DispatchItem, 0, len(items))
	for _, item := range items {
		res := r.dispatcher.Dispatch(ctx, item)

		log.Info("notify attempt",
			slog.Int64("waiter_id", item.Waiter.ID),
			slog.String("sku", item.Product.SKU),
			slog.String("channel", item.Waiter.Channel),
			slog.String("address", item.Waiter.Address),
			slog.Bool("ok", res.OK),
			slog.String("detail", res.Detail),
		)

		if res.OK {
			sent = append(sent, item)
		} else {
			ir.Failed++
		}
	}

	if len(sent) == 0 {
		return ir, nil
	}

	notifiedAt := r.now()
	updates := make([]models.StatusUpdate, 0, len(sent))
	for _, item := range sent {
		updates = append(updates, models.StatusUpdate{
			WaiterID:   item.Waiter.ID,
			Status:     models.Notified,
			NotifiedAt: notifiedAt,
		})
	}

	if err := r.store.UpdateStatuses(ctx, policy.WaitlistTable, updates); err != nil {
		return ir, fmt.Errorf("status commit: %w", err)
	}
	ir.Sent = len(sent)

	log.Info("updated waiter statuses", slog.Int("count", ir.Sent))

	r.publish(ctx, log, runID, notifiedAt, sent)

	return ir, nil
}

func (r *Runner) publish(ctx context.Context, log *slog.Logger, runID string, at time.Time, sent []models.DispatchItem) {
	if r.events == nil {
		return
	}

	for _, item := range sent {
		event := models.NewNotificationEvent(uuid.NewString(), runID, item, at)
		if err := r.events.PublishJSON(ctx, event); err != nil {
			log.Warn("failed to publish notification event",
				slog.Int64("waiter_id", item.Waiter.ID),
				sl.Err(err),
			)
		}
	}
}

func (r *Runner) fail(ctx context.Context, log *slog.Logger, report models.RunReport, err error) (models.RunReport, error) {
	log.Error("run failed", sl.Err(err))

	report.State = models.RunFailed
	report.Error = err.Error()
	report.FinishedAt = r.now()
	r.saveReport(ctx, log, report)

	return report, err
}

func (r *Runner) saveReport(ctx context.Context, log *slog.Logger, report models.RunReport) {
	if r.reports == nil {
		return
	}
	if err := r.reports.SaveReport(ctx, report); err != nil {
		log.Warn("failed to save run report", sl.Err(err))
	}
}

// BuildSnapshot turns the observed inventory into the next snapshot. Products
// without a SKU are not tracked; for duplicated SKUs the last row wins.
func BuildSnapshot(inventory []models.Product, observedAt time.Time) []models.SnapshotEntry {
	index := make(map[string]int, len(inventory))
	entries := make([]models.SnapshotEntry, 0, len(inventory))

	for _, p := range inventory {
		key := models.NormalizeKey(p.SKU)
		if key == "" {
			continue
		}

		e := models.SnapshotEntry{SKU: key, LastStock: p.Stock, LastSeenAt: observedAt}
		if i, ok := index[key]; ok {
			entries[i] = e
			continue
		}
		index[key] = len(entries)
		entries = append(entries, e)
	}

	return entries
}
