package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Button is one inline keyboard button attached to a message.
type Button struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

// Notifier pushes messages to chat channels. Delivery is best effort:
// callers log failures and move on, a lost notification never fails a
// pipeline run.
type Notifier interface {
	Notify(ctx context.Context, text string) error
	SendTo(ctx context.Context, chatID, text string) error
	SendWithButtons(ctx context.Context, chatID, text string, buttons []Button) error
}

// TelegramNotifier talks to the Telegram bot API over plain HTTP.
type TelegramNotifier struct {
	BotToken string
	// OperatorChatID receives run summaries and admin digests.
	OperatorChatID string
	BaseURL        string // defaults to https://api.telegram.org
	Client         *http.Client
}

type sendMessageRequest struct {
	ChatID      string       `json:"chat_id"`
	Text        string       `json:"text"`
	ParseMode   string       `json:"parse_mode"`
	ReplyMarkup *replyMarkup `json:"reply_markup,omitempty"`
}

type replyMarkup struct {
	InlineKeyboard [][]Button `json:"inline_keyboard"`
}

func (t *TelegramNotifier) Notify(ctx context.Context, text string) error {
	return t.SendTo(ctx, t.OperatorChatID, text)
}

func (t *TelegramNotifier) SendTo(ctx context.Context, chatID, text string) error {
	return t.send(ctx, sendMessageRequest{ChatID: chatID, Text: text, ParseMode: "HTML"})
}

// SendWithButtons delivers a message with one inline button per row.
func (t *TelegramNotifier) SendWithButtons(ctx context.Context, chatID, text string, buttons []Button) error {
	if len(buttons) == 0 {
		return t.SendTo(ctx, chatID, text)
	}
	rows := make([][]Button, 0, len(buttons))
	for _, b := range buttons {
		rows = append(rows, []Button{b})
	}
	return t.send(ctx, sendMessageRequest{
		ChatID:      chatID,
		Text:        text,
		ParseMode:   "HTML",
		ReplyMarkup: &replyMarkup{InlineKeyboard: rows},
	})
}

func (t *TelegramNotifier) send(ctx context.Context, payload sendMessageRequest) error {
	if t.BotToken == "" || payload.ChatID == "" {
		return fmt.Errorf("telegram not configured")
	}

	base := t.BaseURL
	if base == "" {
		base = "https://api.telegram.org"
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", base, t.BotToken)

	b, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := t.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram api status %d: %s", resp.StatusCode, body)
	}
	return nil
}

// NopNotifier is used when no bot token is configured.
type NopNotifier struct{}

func (NopNotifier) Notify(ctx context.Context, text string) error { return nil }

func (NopNotifier) SendTo(ctx context.Context, chatID, text string) error { return nil }

func (NopNotifier) SendWithButtons(ctx context.Context, chatID, text string, buttons []Button) error {
	return nil
}
