package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/evetabi/tradesim/internal/domain"
)

// TelegramSender delivers events to the account's own chat via the Telegram
// Bot API. Events for accounts without a linked chat are skipped.
type TelegramSender struct {
	token   string
	baseURL string
	client  *http.Client
}

// NewTelegramSender creates a TelegramSender for the given bot token. baseURL
// defaults to https://api.telegram.org.
func NewTelegramSender(token, baseURL string) *TelegramSender {
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	return &TelegramSender{
		token:   token,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts a sendMessage request for ev.
func (t *TelegramSender) Send(ctx context.Context, ev domain.Event) error {
	if ev.TelegramChatID == nil {
		return nil
	}

	payload := map[string]string{
		"chat_id":    strconv.FormatInt(*ev.TelegramChatID, 10),
		"text":       FormatEvent(ev),
		"parse_mode": "Markdown",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram: marshal payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("telegram: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string { return "telegram" }

// FormatEvent renders ev as a short Markdown message.
func FormatEvent(ev domain.Event) string {
	amount := ev.Amount.StringFixed(domain.PnLPlaces)
	if ev.Amount.IsPositive() {
		amount = "+" + amount
	}
	balance := ev.BalanceAfter.StringFixed(domain.PnLPlaces)

	switch ev.Kind {
	case domain.EventPositionClosed:
		return fmt.Sprintf("*Position closed* (%s)\n%s pnl: `%s`\nBalance: `%s`",
			ev.Reason, ev.Symbol, amount, balance)
	case domain.EventPayout:
		return fmt.Sprintf("*Payout* `%s`\n%s\nBalance: `%s`", amount, ev.Reason, balance)
	case domain.EventAdjustment:
		return fmt.Sprintf("*Balance adjusted* `%s`\nBalance: `%s`", amount, balance)
	default:
		return fmt.Sprintf("*%s* `%s`\nBalance: `%s`", ev.Kind, amount, balance)
	}
}
