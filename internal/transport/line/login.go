package line

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"stock_notifier/internal/config"

	"golang.org/x/oauth2"
)

var Endpoint = oauth2.Endpoint{
	AuthURL:   "https://access.line.me/oauth2/v2.1/authorize",
	TokenURL:  "https://api.line.me/oauth2/v2.1/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

const DefaultProfileURL = "https://api.line.me/v2/profile"

var ErrEmptyProfile = errors.New("LINE profile has no userId")

type Profile struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

// LoginClient runs the LINE Login authorization code flow.
type LoginClient struct {
	oauth      *oauth2.Config
	profileURL string
}

func NewLoginClient(cfg config.Login) *LoginClient {
	return &LoginClient{
		oauth: &oauth2.Config{
			ClientID:     cfg.ChannelID,
			ClientSecret: cfg.ChannelSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     Endpoint,
			Scopes:       []string{"profile"},
		},
		profileURL: DefaultProfileURL,
	}
}

func (c *LoginClient) Configured() bool {
	return c.oauth.ClientID != "" && c.oauth.ClientSecret != "" && c.oauth.RedirectURL != ""
}

func (c *LoginClient) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// Profile exchanges an authorization code and fetches the logged in user's profile.
func (c *LoginClient) Profile(ctx context.Context, code string) (Profile, error) {
	const op = "transport.line.Profile"

	token, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return Profile{}, fmt.Errorf("%s: token exchange: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.profileURL, nil)
	if err != nil {
		return Profile{}, fmt.Errorf("%s: %w", op, err)
	}

	resp, err := c.oauth.Client(ctx, token).Do(req)
	if err != nil {
		return Profile{}, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return Profile{}, fmt.Errorf("%s: profile status %d: %s", op, resp.StatusCode, body)
	}

	var p Profile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return Profile{}, fmt.Errorf("%s: %w", op, err)
	}
	if p.UserID == "" {
		return Profile{}, fmt.Errorf("%s: %w", op, ErrEmptyProfile)
	}

	return p, nil
}
