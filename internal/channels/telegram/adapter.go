// Package telegram adapts github.com/go-telegram/bot to the
// channels.Adapter contract.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/relaymesh/switchboard/internal/channels"
	"github.com/relaymesh/switchboard/internal/retry"
	"github.com/relaymesh/switchboard/internal/switchmodels"
)

const channelType = "telegram"

// Adapter implements channels.Adapter over the Telegram Bot API.
type Adapter struct {
	token    string
	logger   *slog.Logger
	messages chan switchmodels.IncomingMessage

	mu     sync.Mutex
	bot    *bot.Bot
	status channels.Status
}

// New builds a Telegram Adapter for the given bot token.
func New(token string) *Adapter {
	return &Adapter{
		token:    token,
		logger:   slog.Default().With("component", "channels.telegram"),
		messages: make(chan switchmodels.IncomingMessage, 64),
	}
}

func (a *Adapter) Type() string { return channelType }

// Start builds the bot client, retrying transient failures (network hiccups
// during the initial getMe call) with bounded backoff before giving up.
func (a *Adapter) Start(ctx context.Context) error {
	var b *bot.Bot
	result := retry.Do(ctx, retry.Exponential(3, 200*time.Millisecond, 3*time.Second), func() error {
		created, err := bot.New(a.token, bot.WithDefaultHandler(a.handleUpdate))
		if err != nil {
			return fmt.Errorf("telegram: create bot: %w", err)
		}
		b = created
		return nil
	})
	if result.Err != nil {
		return result.Err
	}
	a.mu.Lock()
	a.bot = b
	a.status = channels.Status{Connected: true, LastPing: time.Now()}
	a.mu.Unlock()

	go b.Start(ctx)
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = channels.Status{Connected: false}
	close(a.messages)
	return nil
}

func (a *Adapter) Send(ctx context.Context, msg channels.OutgoingMessage) error {
	a.mu.Lock()
	b := a.bot
	a.mu.Unlock()
	if b == nil {
		return fmt.Errorf("telegram: adapter not started")
	}
	chatID, err := strconv.ParseInt(msg.To, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat id %q: %w", msg.To, err)
	}
	_, err = b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   msg.Content,
	})
	if err != nil {
		return fmt.Errorf("telegram: send message: %w", err)
	}
	return nil
}

func (a *Adapter) Messages() <-chan switchmodels.IncomingMessage { return a.messages }

func (a *Adapter) Status() channels.Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

func (a *Adapter) HealthCheck(ctx context.Context) channels.HealthStatus {
	status := a.Status()
	return channels.HealthStatus{
		Healthy:   status.Connected,
		LastCheck: time.Now(),
		Message:   status.Error,
	}
}

func (a *Adapter) handleUpdate(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	msg := switchmodels.IncomingMessage{
		Channel:    channelType,
		From:       strconv.FormatInt(update.Message.From.ID, 10),
		To:         strconv.FormatInt(update.Message.Chat.ID, 10),
		Peer:       strconv.FormatInt(update.Message.Chat.ID, 10),
		Text:       update.Message.Text,
		SessionKey: fmt.Sprintf("telegram:%d", update.Message.Chat.ID),
	}
	select {
	case a.messages <- msg:
	case <-ctx.Done():
	}
}
