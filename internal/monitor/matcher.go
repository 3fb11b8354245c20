package monitor

import (
	"log/slog"

	"stock_notifier/internal/models"
)

type matcher struct {
	log      *slog.Logger
	policy   Policy
	snapshot models.Snapshot
	// firstRun is set when no run has ever committed a snapshot.
	firstRun bool

	enqueued map[int64]struct{}
	items    []models.DispatchItem
}

// Match returns every (waiter, product) pair of the policy's waitlist that
// should be notified this run. No waiter appears twice.
//
// The inventory-driven pass walks products that carry a SKU. The
// waitlist-driven pass then groups the remaining pending waiters by SKU, or
// by product name when they have none, so waiters whose product is missing
// from the feed are still evaluated against a zero-stock stand-in.
//
// On the first run ever nothing has been observed before, so unseen products
// do not count as arrivals. After that a product missing from the snapshot
// does, even when the committed snapshot was empty.
func Match(
	log *slog.Logger,
	policy Policy,
	waiters []models.Waiter,
	inventory []models.Product,
	snapshot models.Snapshot,
	firstRun bool,
) ([]models.DispatchItem, error) {
	m := &matcher{
		log:      log,
		policy:   policy,
		snapshot: snapshot,
		firstRun: firstRun,
		enqueued: make(map[int64]struct{}),
	}

	pending := make([]models.Waiter, 0, len(waiters))
	for _, w := range waiters {
		if w.IsPending() {
			pending = append(pending, w)
		}
	}

	bySKU := make(map[string]*models.Product, len(inventory))
	byName := make(map[string]*models.Product, len(inventory))
	for i := range inventory {
		p := &inventory[i]
		if key := models.NormalizeKey(p.SKU); key != "" {
			bySKU[key] = p
		}
		if key := models.NormalizeKey(p.Name); key != "" {
			byName[key] = p
		}
	}

	// Inventory-driven pass.
	for i := range inventory {
		p := &inventory[i]
		if models.NormalizeKey(p.SKU) == "" {
			continue
		}

		matched := matchWaiters(pending, p.SKU, p.Name)
		if len(matched) == 0 {
			continue
		}

		if err := m.collect(p, p.SKU, p.Name, matched); err != nil {
			return nil, err
		}
	}

	// Waitlist-driven pass.
	for _, g := range groupWaiters(pending) {
		var product *models.Product
		if g.bySKU {
			product = bySKU[g.key]
		} else {
			product = byName[g.key]
		}

		remaining := make([]models.Waiter, 0, len(g.waiters))
		for _, w := range g.waiters {
			if _, ok := m.enqueued[w.ID]; !ok {
				remaining = append(remaining, w)
			}
		}
		if len(remaining) == 0 {
			continue
		}

		sku, name := g.waiters[0].SKU, g.waiters[0].ProductName
		if product == nil {
			m.log.Debug("no inventory row, treating current stock as 0", slog.String("key", g.String()))
		} else if product.SKU != "" {
			// A name match still uses the product's own snapshot entry.
			sku = product.SKU
		}

		if err := m.collect(product, sku, name, remaining); err != nil {
			return nil, err
		}
	}

	return m.items, nil
}

func (m *matcher) collect(product *models.Product, sku, name string, candidates []models.Waiter) error {
	current := 0
	if product != nil {
		current = product.Stock
	}

	var prev *models.SnapshotEntry
	if e, ok := m.snapshot.Lookup(sku); ok {
		prev = &e
	}

	t, err := Evaluate(m.policy.Intent, m.policy.Threshold, current, prev)
	if err != nil {
		return err
	}
	if m.firstRun {
		t.JustCrossed = false
	}

	selected := selectWaiters(m.policy.Intent, t, prev, candidates)

	attrs := []any{
		slog.String("sku", displaySKU(sku)),
		slog.Int("current", current),
		slog.Bool("eligible_now", t.EligibleNow),
		slog.Bool("just_crossed", t.JustCrossed),
	}
	if prev != nil {
		attrs = append(attrs, slog.Int("prev", prev.LastStock))
	}

	if len(selected) == 0 {
		m.log.Debug("no notify", attrs...)
		return nil
	}
	m.log.Info("notify", append(attrs, slog.Int("count", len(selected)))...)

	view := models.Product{SKU: sku, Name: name, Stock: current}
	if product != nil {
		view = *product
	}

	for _, w := range selected {
		if _, ok := m.enqueued[w.ID]; ok {
			continue
		}
		m.enqueued[w.ID] = struct{}{}
		m.items = append(m.items, models.DispatchItem{
			Intent:  m.policy.Intent,
			Waiter:  w,
			Product: view,
		})
	}

	return nil
}

// matchWaiters finds the waiters referencing a product. A waiter with a SKU
// only ever matches by SKU, name matching is the fallback for waiters
// registered without one.
func matchWaiters(pending []models.Waiter, sku, name string) []models.Waiter {
	skuKey := models.NormalizeKey(sku)
	nameKey := models.NormalizeKey(name)

	var matched []models.Waiter
	for _, w := range pending {
		if wSKU := models.NormalizeKey(w.SKU); wSKU != "" {
			if wSKU == skuKey {
				matched = append(matched, w)
			}
			continue
		}
		if wName := models.NormalizeKey(w.ProductName); wName != "" && wName == nameKey {
			matched = append(matched, w)
		}
	}
	return matched
}

type waiterGroup struct {
	key     string
	bySKU   bool
	waiters []models.Waiter
}

func (g waiterGroup) String() string {
	if g.bySKU {
		return "sku:" + g.key
	}
	return "#name:" + g.key
}

// groupWaiters keeps first-seen order so runs are deterministic.
func groupWaiters(pending []models.Waiter) []*waiterGroup {
	var groups []*waiterGroup
	index := make(map[string]*waiterGroup)

	for _, w := range pending {
		g := waiterGroup{key: models.NormalizeKey(w.SKU), bySKU: true}
		if g.key == "" {
			g = waiterGroup{key: models.NormalizeKey(w.ProductName)}
		}
		if g.key == "" {
			continue
		}

		existing, ok := index[g.String()]
		if !ok {
			existing = &waiterGroup{key: g.key, bySKU: g.bySKU}
			index[g.String()] = existing
			groups = append(groups, existing)
		}
		existing.waiters = append(existing.waiters, w)
	}

	return groups
}

func displaySKU(sku string) string {
	if sku == "" {
		return "(no sku)"
	}
	return sku
}
