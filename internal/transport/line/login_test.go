package line

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"stock_notifier/internal/config"

	"golang.org/x/oauth2"
)

func testLoginClient(t *testing.T, profile string) *LoginClient {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		if r.Form.Get("code") != "auth-code" || r.Form.Get("client_id") != "1234" {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "access",
			"token_type":   "Bearer",
			"expires_in":   2592000,
		})
	})
	mux.HandleFunc("/profile", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(profile))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := NewLoginClient(config.Login{ChannelID: "1234", ChannelSecret: "s3cret", RedirectURL: "https://shop.example.com/line/callback"})
	c.oauth.Endpoint = oauth2.Endpoint{
		AuthURL:   srv.URL + "/authorize",
		TokenURL:  srv.URL + "/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
	c.profileURL = srv.URL + "/profile"
	return c
}

func TestLoginProfile(t *testing.T) {
	c := testLoginClient(t, `{"userId":"U42","displayName":"Hanako"}`)

	p, err := c.Profile(context.Background(), "auth-code")
	if err != nil {
		t.Fatalf("Profile error: %v", err)
	}
	if p.UserID != "U42" || p.DisplayName != "Hanako" {
		t.Fatalf("profile = %+v", p)
	}

	if _, err := c.Profile(context.Background(), "wrong"); err == nil {
		t.Fatal("expected token exchange error")
	}
}

func TestLoginProfileWithoutUserID(t *testing.T) {
	c := testLoginClient(t, `{"displayName":"Hanako"}`)

	if _, err := c.Profile(context.Background(), "auth-code"); err == nil {
		t.Fatal("expected error for empty profile")
	}
}

func TestAuthCodeURL(t *testing.T) {
	c := NewLoginClient(config.Login{ChannelID: "1234", ChannelSecret: "s", RedirectURL: "https://shop.example.com/line/callback"})

	u, err := url.Parse(c.AuthCodeURL("signed-state"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	q := u.Query()
	if u.Host != "access.line.me" || q.Get("state") != "signed-state" || q.Get("scope") != "profile" ||
		q.Get("response_type") != "code" || q.Get("client_id") != "1234" {
		t.Fatalf("auth url = %s", u)
	}
	if !c.Configured() {
		t.Fatal("Configured() = false")
	}
}
