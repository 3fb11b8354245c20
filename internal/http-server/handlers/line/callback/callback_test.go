package lineCallback

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"stock_notifier/internal/transport/line"
)

type fakeStates struct{}

func (fakeStates) Parse(state string) (string, error) {
	if !strings.HasPrefix(state, "ok-") {
		return "", errors.New("invalid state")
	}
	return strings.TrimPrefix(state, "ok-"), nil
}

type fakeProfiles struct{ err error }

func (f fakeProfiles) Profile(_ context.Context, code string) (line.Profile, error) {
	if f.err != nil {
		return line.Profile{}, f.err
	}
	return line.Profile{UserID: "U-" + code}, nil
}

type fakeLinker struct {
	links map[string]string
	err   error
}

func (f *fakeLinker) Link(_ context.Context, userID, lineUserID string) error {
	if f.err != nil {
		return f.err
	}
	f.links[userID] = lineUserID
	return nil
}

func TestCallback(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		profileErr error
		linkErr    error
		want       int
		wantLinked bool
	}{
		{name: "linked", query: "?code=abc&state=ok-u-1", want: http.StatusOK, wantLinked: true},
		{name: "declined", query: "?error=access_denied&state=ok-u-1", want: http.StatusBadRequest},
		{name: "missing code", query: "?state=ok-u-1", want: http.StatusBadRequest},
		{name: "forged state", query: "?code=abc&state=u-1", want: http.StatusBadRequest},
		{name: "profile failure", query: "?code=abc&state=ok-u-1", profileErr: errors.New("token exchange"), want: http.StatusBadGateway},
		{name: "storage failure", query: "?code=abc&state=ok-u-1", linkErr: errors.New("db down"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			linker := &fakeLinker{links: map[string]string{}, err: tt.linkErr}
			h := New(slog.New(slog.NewTextHandler(io.Discard, nil)), fakeStates{}, fakeProfiles{err: tt.profileErr}, linker)

			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/line/callback"+tt.query, nil))

			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d", rr.Code, tt.want)
			}
			if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
				t.Fatalf("Content-Type = %q", ct)
			}

			wantPage := failurePage
			if tt.wantLinked {
				wantPage = successPage
			}
			if rr.Body.String() != wantPage {
				t.Fatalf("body = %q", rr.Body.String())
			}
			if got := linker.links["u-1"]; tt.wantLinked != (got == "U-abc") {
				t.Fatalf("links = %v", linker.links)
			}
		})
	}
}
