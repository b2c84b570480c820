// Package slack adapts github.com/slack-go/slack (Socket Mode) to the
// channels.Adapter contract.
package slack

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/relaymesh/switchboard/internal/channels"
	"github.com/relaymesh/switchboard/internal/switchmodels"
)

const channelType = "slack"

// Adapter implements channels.Adapter over Slack Socket Mode.
type Adapter struct {
	botToken, appToken string
	logger             *slog.Logger
	messages           chan switchmodels.IncomingMessage

	mu     sync.Mutex
	api    *slack.Client
	sm     *socketmode.Client
	status channels.Status
}

// New builds a Slack Adapter from a bot token (xoxb-) and app-level token
// (xapp-).
func New(botToken, appToken string) *Adapter {
	return &Adapter{
		botToken: botToken,
		appToken: appToken,
		logger:   slog.Default().With("component", "channels.slack"),
		messages: make(chan switchmodels.IncomingMessage, 64),
	}
}

func (a *Adapter) Type() string { return channelType }

func (a *Adapter) Start(ctx context.Context) error {
	api := slack.New(a.botToken, slack.OptionAppLevelToken(a.appToken))
	sm := socketmode.New(api)

	a.mu.Lock()
	a.api = api
	a.sm = sm
	a.status = channels.Status{Connected: true, LastPing: time.Now()}
	a.mu.Unlock()

	go a.consume(ctx, sm)
	go func() {
		if err := sm.RunContext(ctx); err != nil {
			a.logger.Error("socket mode run ended", "error", err)
			a.mu.Lock()
			a.status = channels.Status{Connected: false, Error: err.Error()}
			a.mu.Unlock()
		}
	}()
	return nil
}

func (a *Adapter) consume(ctx context.Context, sm *socketmode.Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sm.Events:
			if !ok {
				return
			}
			if evt.Type != socketmode.EventTypeEventsAPI {
				continue
			}
			eventsAPI, ok := evt.Data.(slackevents.EventsAPIEvent)
			if !ok {
				continue
			}
			sm.Ack(*evt.Request)
			a.handleEvent(ctx, eventsAPI)
		}
	}
}

func (a *Adapter) handleEvent(ctx context.Context, eventsAPI slackevents.EventsAPIEvent) {
	inner, ok := eventsAPI.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok {
		return
	}
	if inner.BotID != "" {
		return
	}
	msg := switchmodels.IncomingMessage{
		Channel:    channelType,
		From:       inner.User,
		To:         inner.Channel,
		Peer:       inner.Channel,
		Text:       inner.Text,
		SessionKey: fmt.Sprintf("slack:%s", inner.Channel),
	}
	select {
	case a.messages <- msg:
	case <-ctx.Done():
	}
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
	api := a.api
	a.mu.Unlock()
	if api == nil {
		return fmt.Errorf("slack: adapter not started")
	}
	_, _, err := api.PostMessageContext(ctx, msg.To, slack.MsgOptionText(msg.Content, false))
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
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
