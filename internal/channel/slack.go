package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"chatbridge/internal/domain"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

const slackMaxMsgLen = 4000

// Slack implements domain.Channel using Socket Mode. Text only: Slack file
// downloads need workspace-scoped auth that the attachment pipeline does not
// carry, so files are ignored here.
type Slack struct {
	botToken string
	appToken string
	client   *slack.Client
	socket   *socketmode.Client
	bus      domain.MessageBus
	logger   *slog.Logger
	botUID   string // the bot's own user ID, to avoid replying to self
}

// SlackConfig configures the Slack channel.
type SlackConfig struct {
	BotToken string
	AppToken string
	Logger   *slog.Logger
}

func NewSlack(cfg SlackConfig) *Slack {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Slack{
		botToken: cfg.BotToken,
		appToken: cfg.AppToken,
		logger:   cfg.Logger,
	}
}

func (s *Slack) Name() string { return "slack" }

// Start connects to Slack via Socket Mode and begins listening for events.
func (s *Slack) Start(ctx context.Context, bus domain.MessageBus) error {
	s.bus = bus

	api := slack.New(
		s.botToken,
		slack.OptionAppLevelToken(s.appToken),
	)
	s.client = api

	authResp, err := api.AuthTest()
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	s.botUID = authResp.UserID
	s.logger.Info("slack bot connected", "user", authResp.User, "user_id", authResp.UserID)

	socketClient := socketmode.New(api)
	s.socket = socketClient

	bus.OnOutbound("slack", func(msg domain.OutboundMessage) {
		s.sendMessage(msg.ChatID, msg.Text)
	})

	go func() {
		for evt := range socketClient.Events {
			switch evt.Type {
			case socketmode.EventTypeEventsAPI:
				eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				socketClient.Ack(*evt.Request)
				s.handleEventsAPI(eventsAPIEvent)

			default:
				// Acknowledge unknown events to prevent Socket Mode disconnection.
				if evt.Request != nil {
					socketClient.Ack(*evt.Request)
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- socketClient.RunContext(ctx)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("slack bot disconnecting")
		return nil
	case err := <-errCh:
		return fmt.Errorf("slack socket mode: %w", err)
	}
}

func (s *Slack) Stop() error { return nil }

func (s *Slack) Send(ctx context.Context, chatID string, text string) error {
	s.sendMessage(chatID, text)
	return nil
}

func (s *Slack) handleEventsAPI(event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		// Ignore the bot's own messages and message_changed subtypes.
		if ev.User == s.botUID || ev.User == "" {
			return
		}
		if ev.SubType != "" {
			return
		}

		s.logger.Info("slack message received",
			"user", ev.User,
			"channel", ev.Channel,
			"text_len", len(ev.Text),
		)
		s.bus.Publish(domain.InboundMessage{
			Channel:   "slack",
			ChatID:    ev.Channel,
			SenderID:  ev.User,
			Text:      ev.Text,
			Timestamp: time.Now(),
		})

	case *slackevents.AppMentionEvent:
		// Strip the mention prefix from @mentions.
		text := ev.Text
		if idx := strings.Index(text, ">"); idx >= 0 {
			text = strings.TrimSpace(text[idx+1:])
		}

		s.logger.Info("slack mention received", "user", ev.User, "channel", ev.Channel)
		s.bus.Publish(domain.InboundMessage{
			Channel:   "slack",
			ChatID:    ev.Channel,
			SenderID:  ev.User,
			Text:      text,
			Timestamp: time.Now(),
		})
	}
}

func (s *Slack) sendMessage(channelID, text string) {
	for _, chunk := range splitMessage(text, slackMaxMsgLen) {
		_, _, err := s.client.PostMessage(
			channelID,
			slack.MsgOptionText(chunk, false),
			slack.MsgOptionAsUser(true),
		)
		if err != nil {
			s.logger.Error("slack send failed", "channel", channelID, "err", err)
		}
	}
}
