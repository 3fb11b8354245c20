package storage

import "errors"

const (
	UniqueViolation = "23505"
)

var (
	ErrInventoryNotFound = errors.New("inventory table not found")
	ErrMissingHeaders    = errors.New("required headers missing")
	ErrIdentityNotLinked = errors.New("LINE user ID not found. Please link your LINE account first.")
	ErrReportNotFound    = errors.New("run report not found")
	ErrInvalidTableName  = errors.New("invalid table name")
	ErrDuplicateSKU      = errors.New("duplicate sku in snapshot")
)

// InventoryHeaders must all be present for a table to count as inventory.
var InventoryHeaders = []string{"sku", "product_name", "price", "currency", "stock", "updated_at"}

var WaitlistHeaders = []string{"sku", "product_name", "channel", "address", "user_id", "status", "created_at", "notified_at"}

var SnapshotHeaders = []string{"sku", "last_stock", "last_seen_at", "note"}
