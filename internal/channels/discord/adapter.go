// Package discord adapts github.com/bwmarrin/discordgo to the
// channels.Adapter contract.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/relaymesh/switchboard/internal/channels"
	"github.com/relaymesh/switchboard/internal/retry"
	"github.com/relaymesh/switchboard/internal/switchmodels"
)

const channelType = "discord"

// Adapter implements channels.Adapter over the Discord gateway.
type Adapter struct {
	token    string
	logger   *slog.Logger
	messages chan switchmodels.IncomingMessage

	mu     sync.Mutex
	sess   *discordgo.Session
	status channels.Status
}

// New builds a Discord Adapter for the given bot token.
func New(token string) *Adapter {
	return &Adapter{
		token:    token,
		logger:   slog.Default().With("component", "channels.discord"),
		messages: make(chan switchmodels.IncomingMessage, 64),
	}
}

func (a *Adapter) Type() string { return channelType }

// Start opens the gateway connection, retrying transient dial failures with
// bounded backoff before giving up.
func (a *Adapter) Start(ctx context.Context) error {
	sess, err := discordgo.New("Bot " + a.token)
	if err != nil {
		return fmt.Errorf("discord: create session: %w", err)
	}
	sess.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages
	sess.AddHandler(a.onMessageCreate)

	result := retry.Do(ctx, retry.Exponential(3, 200*time.Millisecond, 3*time.Second), sess.Open)
	if result.Err != nil {
		return fmt.Errorf("discord: open session: %w", result.Err)
	}

	a.mu.Lock()
	a.sess = sess
	a.status = channels.Status{Connected: true, LastPing: time.Now()}
	a.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = sess.Close()
	}()
	return nil
}

func (a *Adapter) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	msg := switchmodels.IncomingMessage{
		Channel:    channelType,
		From:       m.Author.ID,
		To:         m.ChannelID,
		Peer:       m.ChannelID,
		GuildID:    m.GuildID,
		Text:       m.Content,
		SessionKey: fmt.Sprintf("discord:%s", m.ChannelID),
	}
	select {
	case a.messages <- msg:
	default:
		a.logger.Warn("dropping inbound discord message, buffer full", "channel", m.ChannelID)
	}
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sess != nil {
		if err := a.sess.Close(); err != nil {
			return fmt.Errorf("discord: close session: %w", err)
		}
	}
	a.status = channels.Status{Connected: false}
	close(a.messages)
	return nil
}

func (a *Adapter) Send(ctx context.Context, msg channels.OutgoingMessage) error {
	a.mu.Lock()
	sess := a.sess
	a.mu.Unlock()
	if sess == nil {
		return fmt.Errorf("discord: adapter not started")
	}
	if _, err := sess.ChannelMessageSend(msg.To, msg.Content); err != nil {
		return fmt.Errorf("discord: send message: %w", err)
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
	return channels.HealthStatus{Healthy: status.Connected, LastCheck: time.Now(), Message: status.Error}
}
