package email

import (
	"context"
	"errors"
	"mime"
	"testing"

	"stock_notifier/internal/config"
)

func TestMessageHeaders(t *testing.T) {
	m := New(config.SMTP{Host: "localhost", Port: 2525, From: "shop@example.com"})

	msg := m.message("waiter@example.com", "【入荷のお知らせ】", "body")

	checks := map[string]string{
		"From":    "shop@example.com",
		"To":      "waiter@example.com",
		"Subject": "【入荷のお知らせ】",
	}
	// Non-ASCII values come back RFC 2047 encoded.
	dec := new(mime.WordDecoder)
	for header, want := range checks {
		got := msg.GetHeader(header)
		if len(got) != 1 {
			t.Fatalf("%s = %v, want one value", header, got)
		}
		decoded, err := dec.DecodeHeader(got[0])
		if err != nil {
			t.Fatalf("decode %s %q: %v", header, got[0], err)
		}
		if decoded != want {
			t.Fatalf("%s = %q, want %q", header, decoded, want)
		}
	}
}

func TestSendHonoursCancelledContext(t *testing.T) {
	m := New(config.SMTP{Host: "localhost", Port: 2525, From: "shop@example.com"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := m.Send(ctx, "waiter@example.com", "s", "b"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
