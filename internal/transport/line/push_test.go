package line

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPush(t *testing.T) {
	var got pushRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("{}"))
	}))
	defer srv.Close()

	c := NewPushClient(srv.URL, "secret-token", 0)
	if err := c.Push(context.Background(), "U123", "入荷しました"); err != nil {
		t.Fatalf("Push error: %v", err)
	}

	if auth != "Bearer secret-token" {
		t.Fatalf("Authorization = %q", auth)
	}
	if got.To != "U123" || len(got.Messages) != 1 || got.Messages[0].Type != "text" || got.Messages[0].Text != "入荷しました" {
		t.Fatalf("payload = %+v", got)
	}
}

func TestPushErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"The request body has 1 error(s)"}`))
	}))
	defer srv.Close()

	err := NewPushClient(srv.URL, "t", 0).Push(context.Background(), "U1", "x")
	if err == nil || !strings.HasPrefix(err.Error(), "LINE push failed: 400 ") {
		t.Fatalf("err = %v", err)
	}
}

func TestPushMissingToken(t *testing.T) {
	err := NewPushClient("http://127.0.0.1:0", "", 0).Push(context.Background(), "U1", "x")
	if !errors.Is(err, ErrMissingToken) {
		t.Fatalf("err = %v, want ErrMissingToken", err)
	}
}

func TestPushRateLimitHonoursContext(t *testing.T) {
	c := NewPushClient("http://127.0.0.1:0", "t", 0.001)
	// Drain the single burst token.
	c.limiter.Allow()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.Push(ctx, "U1", "x"); err == nil {
		t.Fatal("expected rate limiter error")
	}
}
