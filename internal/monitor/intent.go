package monitor

import (
	"bytes"
	"errors"
	"fmt"
	"text/template"

	"stock_notifier/internal/config"
	"stock_notifier/internal/models"
)

var ErrUnknownIntent = errors.New("unknown intent")

const (
	DefaultLowStockThreshold = 5
	UnknownProductName       = "(不明)"
)

const (
	defaultArrivalSubject = `【入荷のお知らせ】「{{.ProductName}}」が入荷しました`
	defaultArrivalBody    = "【入荷通知】\n\n以下の商品が入荷しましたのでお知らせいたします。\n\n■商品情報\n" +
		"商品名: {{.ProductName}}\n価格: {{.Price}} {{.Currency}}\n現在の在庫数: {{.Stock}}\n\n" +
		"※このメッセージはシステムにより自動送信されています。"

	defaultLowStockSubject = `【在庫わずか】「{{.ProductName}}」`
	defaultLowStockBody    = "【在庫減少のお知らせ】\n\n以下の商品の在庫が残りわずかとなりましたのでお知らせいたします。\n\n■商品情報\n" +
		"商品名: {{.ProductName}}\n価格: {{.Price}} {{.Currency}}\n現在の在庫数: {{.Stock}}\n\n" +
		"※このメッセージはシステムにより自動送信されています。"
)

// Policy is everything one intent needs during a run.
type Policy struct {
	Intent        models.Intent
	WaitlistTable string
	// Threshold is only meaningful for low_stock.
	Threshold int

	subject *template.Template
	body    *template.Template
}

// MessageView is the data the subject and body templates are rendered with.
type MessageView struct {
	SKU         string
	ProductName string
	Price       string
	Currency    string
	Stock       int
	Threshold   int
}

func (p Policy) view(product models.Product) MessageView {
	name := product.Name
	if name == "" {
		name = UnknownProductName
	}
	return MessageView{
		SKU:         product.SKU,
		ProductName: name,
		Price:       product.Price.String(),
		Currency:    product.Currency,
		Stock:       product.Stock,
		Threshold:   p.Threshold,
	}
}

func (p Policy) Render(product models.Product) (subject, body string, err error) {
	view := p.view(product)

	var buf bytes.Buffer
	if err := p.subject.Execute(&buf, view); err != nil {
		return "", "", fmt.Errorf("subject template: %w", err)
	}
	subject = buf.String()

	buf.Reset()
	if err := p.body.Execute(&buf, view); err != nil {
		return "", "", fmt.Errorf("body template: %w", err)
	}

	return subject, buf.String(), nil
}

// Registry maps every intent to its policy. It is built once at start-up
// and never mutated.
type Registry struct {
	policies []Policy
}

func NewRegistry(cfg config.Intents) (*Registry, error) {
	arrival, err := newPolicy(models.Arrival, cfg.Arrival, "arrival_waitlist", defaultArrivalSubject, defaultArrivalBody)
	if err != nil {
		return nil, err
	}

	lowStock, err := newPolicy(models.LowStock, cfg.LowStock, "low_stock_waitlist", defaultLowStockSubject, defaultLowStockBody)
	if err != nil {
		return nil, err
	}

	return &Registry{policies: []Policy{arrival, lowStock}}, nil
}

func newPolicy(intent models.Intent, cfg config.IntentConfig, table, subject, body string) (Policy, error) {
	const op = "monitor.newPolicy"

	if cfg.WaitlistTable != "" {
		table = cfg.WaitlistTable
	}
	if cfg.SubjectTemplate != "" {
		subject = cfg.SubjectTemplate
	}
	if cfg.BodyTemplate != "" {
		body = cfg.BodyTemplate
	}

	p := Policy{Intent: intent, WaitlistTable: table}

	if intent == models.LowStock {
		switch {
		case cfg.Threshold < 0:
			return Policy{}, fmt.Errorf("%s: %s: threshold must not be negative, got %d", op, intent, cfg.Threshold)
		case cfg.Threshold == 0:
			p.Threshold = DefaultLowStockThreshold
		default:
			p.Threshold = cfg.Threshold
		}
	}

	var err error
	if p.subject, err = template.New(string(intent) + "_subject").Parse(subject); err != nil {
		return Policy{}, fmt.Errorf("%s: %s: %w", op, intent, err)
	}
	if p.body, err = template.New(string(intent) + "_body").Parse(body); err != nil {
		return Policy{}, fmt.Errorf("%s: %s: %w", op, intent, err)
	}

	// Field typos only surface on execution, catch them before the first run.
	if _, _, err := p.Render(models.Product{}); err != nil {
		return Policy{}, fmt.Errorf("%s: %s: %w", op, intent, err)
	}

	return p, nil
}

// Policies returns the policies in processing order.
func (r *Registry) Policies() []Policy {
	return r.policies
}

func (r *Registry) Policy(intent models.Intent) (Policy, error) {
	for _, p := range r.policies {
		if p.Intent == intent {
			return p, nil
		}
	}
	return Policy{}, fmt.Errorf("%w: %q", ErrUnknownIntent, intent)
}

// Tables lists the waitlist tables of every intent.
func (r *Registry) Tables() []string {
	tables := make([]string, 0, len(r.policies))
	for _, p := range r.policies {
		tables = append(tables, p.WaitlistTable)
	}
	return tables
}
