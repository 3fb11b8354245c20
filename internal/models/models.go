package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Intent string

const (
	Arrival  Intent = "arrival"
	LowStock Intent = "low_stock"
)

// Intents lists every known intent in processing order.
var Intents = []Intent{Arrival, LowStock}

func ParseIntent(s string) (Intent, bool) {
	switch Intent(strings.ToLower(strings.TrimSpace(s))) {
	case Arrival:
		return Arrival, true
	case LowStock:
		return LowStock, true
	}
	return "", false
}

type Channel string

const (
	Email Channel = "email"
	Line  Channel = "line"
)

// ParseChannel treats an empty value as email.
func ParseChannel(s string) (Channel, bool) {
	switch Channel(strings.ToLower(strings.TrimSpace(s))) {
	case Email, "":
		return Email, true
	case Line:
		return Line, true
	}
	return "", false
}

type Status string

const (
	Pending  Status = "pending"
	Notified Status = "notified"
)

type Product struct {
	SKU       string          `json:"sku"`
	Name      string          `json:"product_name"`
	Price     decimal.Decimal `json:"price"`
	Currency  string          `json:"currency"`
	Stock     int             `json:"stock"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type SnapshotEntry struct {
	SKU        string    `json:"sku"`
	LastStock  int       `json:"last_stock"`
	LastSeenAt time.Time `json:"last_seen_at"`
	Note       string    `json:"note"`
}

// Snapshot is keyed by NormalizeKey(sku).
type Snapshot map[string]SnapshotEntry

func (s Snapshot) Lookup(sku string) (SnapshotEntry, bool) {
	key := NormalizeKey(sku)
	if key == "" {
		return SnapshotEntry{}, false
	}
	e, ok := s[key]
	return e, ok
}

type Waiter struct {
	ID          int64     `json:"id"`
	SKU         string    `json:"sku"`
	ProductName string    `json:"product_name"`
	Channel     string    `json:"channel"`
	Address     string    `json:"address"`
	UserID      string    `json:"user_id"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	NotifiedAt  time.Time `json:"notified_at"`
}

// IsPending reports true for an empty status too, rows appended by hand
// often leave it blank.
func (w Waiter) IsPending() bool {
	st := NormalizeKey(w.Status)
	return st == "" || st == string(Pending)
}

type StatusUpdate struct {
	WaiterID   int64
	Status     Status
	NotifiedAt time.Time
}

// DispatchItem pairs one waiter with the product view it is notified about.
type DispatchItem struct {
	Intent  Intent
	Waiter  Waiter
	Product Product
}

type UserMapping struct {
	UserID     string    `json:"user_id"`
	LineUserID string    `json:"line_user_id"`
	LinkedAt   time.Time `json:"linked_at"`
}

func NormalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

type RunState string

const (
	RunCompleted RunState = "completed"
	RunSkipped   RunState = "skipped"
	RunFailed    RunState = "failed"
)

type RunReport struct {
	RunID      string         `json:"run_id"`
	State      RunState       `json:"state"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Intents    []IntentReport `json:"intents,omitempty"`
	Error      string         `json:"error,omitempty"`
}

type IntentReport struct {
	Intent   Intent `json:"intent"`
	Waiters  int    `json:"waiters"`
	Pending  int    `json:"pending"`
	Selected int    `json:"selected"`
	Sent     int    `json:"sent"`
	Failed   int    `json:"failed"`
}

// NotificationEvent is published once per waiter after its status commit.
type NotificationEvent struct {
	EventID     string    `json:"event_id"`
	Type        string    `json:"type"`
	RunID       string    `json:"run_id"`
	Intent      Intent    `json:"intent"`
	WaiterID    int64     `json:"waiter_id"`
	UserID      string    `json:"user_id,omitempty"`
	Channel     string    `json:"channel"`
	SKU         string    `json:"sku,omitempty"`
	ProductName string    `json:"product_name,omitempty"`
	Stock       int       `json:"stock"`
	NotifiedAt  time.Time `json:"notified_at"`
}

const EventNotificationSent = "notification.sent"

func (e NotificationEvent) EventType() string { return e.Type }

func NewNotificationEvent(eventID, runID string, item DispatchItem, at time.Time) NotificationEvent {
	return NotificationEvent{
		EventID:     eventID,
		Type:        EventNotificationSent,
		RunID:       runID,
		Intent:      item.Intent,
		WaiterID:    item.Waiter.ID,
		UserID:      item.Waiter.UserID,
		Channel:     item.Waiter.Channel,
		SKU:         item.Product.SKU,
		ProductName: item.Product.Name,
		Stock:       item.Product.Stock,
		NotifiedAt:  at,
	}
}
