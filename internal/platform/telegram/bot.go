package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/tunnelbot/pkg/config"
	"github.com/fatflowers/tunnelbot/pkg/joberr"
)

var ErrNotConfigured = errors.New("telegram_bot_token_missing")

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

// Bot sends chat messages through the Telegram Bot API.
type Bot struct {
	apiBase string
	token   string
	http    *http.Client
	log     *zap.SugaredLogger
}

func NewBot(cfg *config.Config, log *zap.SugaredLogger) *Bot {
	return &Bot{
		apiBase: strings.TrimRight(cfg.Telegram.APIBase, "/"),
		token:   cfg.Telegram.BotToken,
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}
}

// SendMessage posts text to chatID. 4xx answers other than 429 are permanent
// (blocked bot, unknown chat) and will not be retried by the scheduler.
func (b *Bot) SendMessage(ctx context.Context, chatID int64, text string) error {
	if b.token == "" {
		return joberr.Permanent(ErrNotConfigured)
	}
	body, err := json.Marshal(map[string]any{
		"chat_id":                  chatID,
		"text":                     text,
		"disable_web_page_preview": true,
	})
	if err != nil {
		return joberr.Permanent(err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", b.apiBase, b.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.http.Do(req)
	if err != nil {
		// the URL carries the token
		return fmt.Errorf("telegram sendMessage: %w", errors.Unwrap(err))
	}
	defer resp.Body.Close()

	var out apiResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	_ = json.Unmarshal(data, &out)
	if resp.StatusCode == http.StatusOK && out.OK {
		return nil
	}

	err = fmt.Errorf("telegram sendMessage: status %d: %s", resp.StatusCode, out.Description)
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return joberr.Permanent(err)
	}
	return err
}

var Module = fx.Options(
	fx.Provide(NewBot),
)
