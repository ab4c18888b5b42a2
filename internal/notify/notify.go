// Package notify delivers session and trade reports to the configured chat
// channel. Delivery problems are the caller's to log; they must never stall
// trade processing.
package notify

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// LogSink is the fallback sink when no bot token is configured.
type LogSink struct{}

func (LogSink) Notify(_ context.Context, text string) error {
	log.Printf("[notify] %s", text)
	return nil
}

// Telegram sends messages to a single chat with bounded retries.
type Telegram struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

func NewTelegram(botToken, chatID string) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat id %q: %w", chatID, err)
	}

	return &Telegram{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     3,
		retryDelayBase: time.Second,
	}, nil
}

func (t *Telegram) Notify(ctx context.Context, text string) error {
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < t.maxRetries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := t.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}

		delay := t.retryDelayBase * time.Duration(i+1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("send after %d retries: %w", t.maxRetries, lastErr)
}
