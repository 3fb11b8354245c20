package lineLogin

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeSigner struct{ err error }

func (s fakeSigner) Sign(userID string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "signed-" + userID, nil
}

type fakeAuth struct{}

func (fakeAuth) AuthCodeURL(state string) string {
	return "https://access.line.me/oauth2/v2.1/authorize?state=" + state
}

func TestLogin(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		signErr   error
		want      int
		wantRedir string
	}{
		{name: "redirect", query: "?user_id=u-1", want: http.StatusFound, wantRedir: "https://access.line.me/oauth2/v2.1/authorize?state=signed-u-1"},
		{name: "missing user", query: "", want: http.StatusBadRequest},
		{name: "sign failure", query: "?user_id=u-1", signErr: errors.New("boom"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(slog.New(slog.NewTextHandler(io.Discard, nil)), fakeSigner{err: tt.signErr}, fakeAuth{})

			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/line/login"+tt.query, nil))

			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d", rr.Code, tt.want)
			}
			if got := rr.Header().Get("Location"); got != tt.wantRedir {
				t.Fatalf("Location = %q, want %q", got, tt.wantRedir)
			}
		})
	}
}
