package waitlist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"stock_notifier/internal/models"
	"stock_notifier/internal/monitor"
)

var (
	ErrInvalidIntent  = errors.New("intent must be arrival or low_stock")
	ErrInvalidChannel = errors.New("channel must be email or line")
	ErrMissingTarget  = errors.New("sku or product_name is required")
	ErrMissingAddress = errors.New("address is required for email")
	ErrMissingUserID  = errors.New("user_id is required for line")
)

type Storage interface {
	AppendWaiter(ctx context.Context, table string, w models.Waiter) (models.Waiter, error)
	LineUserID(ctx context.Context, userID string) (string, error)
	SaveUserMapping(ctx context.Context, m models.UserMapping) error
}

type Registry interface {
	Policy(intent models.Intent) (monitor.Policy, error)
}

type Request struct {
	SKU         string
	ProductName string
	Intent      string
	Channel     string
	Address     string
	UserID      string
}

type WaitlistOperator struct {
	Storage  Storage
	Registry Registry
	now      func() time.Time
}

func New(s Storage, r Registry) *WaitlistOperator {
	return &WaitlistOperator{
		Storage:  s,
		Registry: r,
		now:      time.Now,
	}
}

// Register appends a pending waiter to the intent's waitlist. LINE waiters
// are addressed by the LINE user ID linked to their user_id.
func (o *WaitlistOperator) Register(ctx context.Context, req Request) (models.Waiter, error) {
	intent, ok := models.ParseIntent(req.Intent)
	if !ok {
		return models.Waiter{}, ErrInvalidIntent
	}
	channel, ok := models.ParseChannel(req.Channel)
	if !ok {
		return models.Waiter{}, ErrInvalidChannel
	}

	w := models.Waiter{
		SKU:         strings.TrimSpace(req.SKU),
		ProductName: strings.TrimSpace(req.ProductName),
		Channel:     string(channel),
		Address:     strings.TrimSpace(req.Address),
		UserID:      strings.TrimSpace(req.UserID),
		Status:      string(models.Pending),
	}
	if w.SKU == "" && w.ProductName == "" {
		return models.Waiter{}, ErrMissingTarget
	}

	switch channel {
	case models.Email:
		if w.Address == "" {
			return models.Waiter{}, ErrMissingAddress
		}
	case models.Line:
		if w.UserID == "" {
			return models.Waiter{}, ErrMissingUserID
		}
		lineUserID, err := o.Storage.LineUserID(ctx, w.UserID)
		if err != nil {
			return models.Waiter{}, err
		}
		w.Address = lineUserID
	}

	policy, err := o.Registry.Policy(intent)
	if err != nil {
		return models.Waiter{}, fmt.Errorf("waitlist.Register: %w", err)
	}

	w.CreatedAt = o.now()

	return o.Storage.AppendWaiter(ctx, policy.WaitlistTable, w)
}

// Link records that userID logged in with the given LINE account.
func (o *WaitlistOperator) Link(ctx context.Context, userID, lineUserID string) error {
	if userID == "" {
		return ErrMissingUserID
	}

	return o.Storage.SaveUserMapping(ctx, models.UserMapping{
		UserID:     userID,
		LineUserID: lineUserID,
		LinkedAt:   o.now(),
	})
}

// IsValidation reports whether err should be answered with a client error.
func IsValidation(err error) bool {
	for _, target := range []error{ErrInvalidIntent, ErrInvalidChannel, ErrMissingTarget, ErrMissingAddress, ErrMissingUserID} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
