package monitor

import (
	"context"
	"strings"

	"stock_notifier/internal/models"
)

type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

type Pusher interface {
	Push(ctx context.Context, to, text string) error
}

// Result is the outcome of one dispatch attempt. Failures are values, a
// failed item never stops the run.
type Result struct {
	OK     bool
	Detail string
}

type Dispatcher struct {
	registry *Registry
	mailer   Mailer
	pusher   Pusher
}

// NewDispatcher accepts a nil pusher when LINE delivery is disabled.
func NewDispatcher(registry *Registry, mailer Mailer, pusher Pusher) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		mailer:   mailer,
		pusher:   pusher,
	}
}

// Dispatch renders the intent's message and makes exactly one transport call.
func (d *Dispatcher) Dispatch(ctx context.Context, item models.DispatchItem) Result {
	policy, err := d.registry.Policy(item.Intent)
	if err != nil {
		return Result{Detail: err.Error()}
	}

	subject, body, err := policy.Render(item.Product)
	if err != nil {
		return Result{Detail: "Failed to resolve templates: " + err.Error()}
	}

	channel, ok := models.ParseChannel(item.Waiter.Channel)
	if !ok {
		return Result{Detail: "Unsupported channel: " + item.Waiter.Channel}
	}

	address := strings.TrimSpace(item.Waiter.Address)

	switch channel {
	case models.Line:
		if address == "" {
			return Result{Detail: "LINE user ID not found"}
		}
		if d.pusher == nil {
			return Result{Detail: "LINE not enabled"}
		}
		if err := d.pusher.Push(ctx, address, body); err != nil {
			return Result{Detail: err.Error()}
		}
		return Result{OK: true, Detail: "LINE push OK"}

	case models.Email:
		if address == "" {
			return Result{Detail: "Email address is empty"}
		}
		if err := d.mailer.Send(ctx, address, subject, body); err != nil {
			return Result{Detail: err.Error()}
		}
		return Result{OK: true, Detail: "Email sent to " + address}
	}

	return Result{Detail: "Unsupported channel: " + string(channel)}
}
