package line

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const DefaultPushURL = "https://api.line.me/v2/bot/message/push"

var ErrMissingToken = errors.New("Missing LINE_MESSAGING_CHANNEL_ACCESS_TOKEN")

type textMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type pushRequest struct {
	To       string        `json:"to"`
	Messages []textMessage `json:"messages"`
}

// PushClient sends LINE Messaging API push messages.
type PushClient struct {
	httpClient *http.Client
	url        string
	token      string
	limiter    *rate.Limiter
}

// NewPushClient limits push calls to ratePerSec, zero or less means unlimited.
func NewPushClient(url, token string, ratePerSec float64) *PushClient {
	if url == "" {
		url = DefaultPushURL
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if ratePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSec), 1)
	}

	return &PushClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		url:        url,
		token:      token,
		limiter:    limiter,
	}
}

func (c *PushClient) Push(ctx context.Context, to, text string) error {
	if c.token == "" {
		return ErrMissingToken
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("LINE push rate limit: %w", err)
	}

	payload, err := json.Marshal(pushRequest{
		To:       to,
		Messages: []textMessage{{Type: "text", Text: text}},
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("LINE push failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	return fmt.Errorf("LINE push failed: %d %s", resp.StatusCode, bytes.TrimSpace(body))
}
