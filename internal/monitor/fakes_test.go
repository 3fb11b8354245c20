package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"stock_notifier/internal/config"
	"stock_notifier/internal/models"
)

var errSMTP = errors.New("smtp: 550 mailbox unavailable")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(config.Intents{})
	if err != nil {
		t.Fatalf("NewRegistry error: %v", err)
	}
	return r
}

type fakeStore struct {
	mu sync.Mutex

	inventory    []models.Product
	inventoryErr error
	snapshot     models.Snapshot
	waitlists    map[string][]models.Waiter
	statusErr    error

	committed      bool
	inventoryReads int
	snapshotWrites int
	commits        map[string][][]models.StatusUpdate
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		snapshot:  models.Snapshot{},
		waitlists: map[string][]models.Waiter{},
		commits:   map[string][][]models.StatusUpdate{},
	}
}

func (s *fakeStore) addWaiter(table string, w models.Waiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w.ID == 0 {
		w.ID = int64(len(s.waitlists[table]) + 1)
	}
	if w.Status == "" {
		w.Status = string(models.Pending)
	}
	s.waitlists[table] = append(s.waitlists[table], w)
}

func (s *fakeStore) waiter(table string, id int64) models.Waiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.waitlists[table] {
		if w.ID == id {
			return w
		}
	}
	return models.Waiter{}
}

func (s *fakeStore) Inventory(context.Context) ([]models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inventoryReads++
	if s.inventoryErr != nil {
		return nil, s.inventoryErr
	}
	out := make([]models.Product, len(s.inventory))
	copy(out, s.inventory)
	return out, nil
}

func (s *fakeStore) Snapshot(context.Context) (models.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(models.Snapshot, len(s.snapshot))
	for k, v := range s.snapshot {
		out[k] = v
	}
	return out, nil
}

func (s *fakeStore) ReplaceSnapshot(_ context.Context, entries []models.SnapshotEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshotWrites++
	s.committed = true
	s.snapshot = make(models.Snapshot, len(entries))
	for _, e := range entries {
		s.snapshot[models.NormalizeKey(e.SKU)] = e
	}
	return nil
}

func (s *fakeStore) SnapshotCommitted(context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committed, nil
}

func (s *fakeStore) Waiters(_ context.Context, table string) ([]models.Waiter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Waiter, len(s.waitlists[table]))
	copy(out, s.waitlists[table])
	return out, nil
}

func (s *fakeStore) UpdateStatuses(_ context.Context, table string, updates []models.StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statusErr != nil {
		return s.statusErr
	}
	s.commits[table] = append(s.commits[table], updates)
	for _, u := range updates {
		for i := range s.waitlists[table] {
			if s.waitlists[table][i].ID == u.WaiterID {
				s.waitlists[table][i].Status = string(u.Status)
				s.waitlists[table][i].NotifiedAt = u.NotifiedAt
			}
		}
	}
	return nil
}

type fakeLock struct {
	mu       sync.Mutex
	busy     bool
	err      error
	released int
	// releaseErr is returned from every release.
	releaseErr error
}

func (l *fakeLock) TryLock(context.Context, time.Duration) (func() error, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, false, l.err
	}
	if l.busy {
		return nil, false, nil
	}
	l.busy = true
	return func() error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.busy = false
		l.released++
		return l.releaseErr
	}, true, nil
}

type sentMessage struct {
	to, subject, body string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMessage
}

// Send fails for any address starting with "fail".
func (m *fakeMailer) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if strings.HasPrefix(to, "fail") {
		return errSMTP
	}
	m.sent = append(m.sent, sentMessage{to: to, subject: subject, body: body})
	return nil
}

func (m *fakeMailer) recipients() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sent))
	for _, s := range m.sent {
		out = append(out, s.to)
	}
	sort.Strings(out)
	return out
}

type fakePusher struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (p *fakePusher) Push(_ context.Context, to, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, sentMessage{to: to, body: text})
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []models.NotificationEvent
	err    error
}

func (p *fakePublisher) PublishJSON(_ context.Context, msg any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, msg.(models.NotificationEvent))
	return nil
}

type fakeReports struct {
	mu      sync.Mutex
	reports []models.RunReport
}

func (r *fakeReports) SaveReport(_ context.Context, report models.RunReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
	return nil
}

// clock is a settable time source for the runner.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}
