package channel

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"chatbridge/internal/domain"

	"github.com/bwmarrin/discordgo"
)

const (
	discordMaxMsgLen      = 2000
	discordMaxSeenRecords = 1024
)

// Discord implements domain.Channel for Discord. Attachments arrive with a
// signed CDN URL instead of a file identifier, so the resolver side keeps a
// bounded record of recently seen attachments: Resolve returns the clean
// CDN path while DownloadURL maps it back to the full signed URL.
type Discord struct {
	token   string
	guildID string
	session *discordgo.Session
	bus     domain.MessageBus
	logger  *slog.Logger

	seenMu sync.Mutex
	seen   map[string]seenAttachment // attachment ID -> record
	byPath map[string]string         // clean path -> signed URL
}

type seenAttachment struct {
	path string
}

// DiscordConfig configures the Discord channel.
type DiscordConfig struct {
	Token   string
	GuildID string // optional: restrict to a specific guild
	Logger  *slog.Logger
}

func NewDiscord(cfg DiscordConfig) *Discord {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Discord{
		token:   cfg.Token,
		guildID: cfg.GuildID,
		logger:  cfg.Logger,
		seen:    make(map[string]seenAttachment),
		byPath:  make(map[string]string),
	}
}

func (d *Discord) Name() string { return "discord" }

// Start connects to Discord using a bot token and begins listening.
func (d *Discord) Start(ctx context.Context, bus domain.MessageBus) error {
	d.bus = bus

	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
	d.session = session

	bus.OnOutbound("discord", func(msg domain.OutboundMessage) {
		d.sendMessage(msg.ChatID, msg.Text)
	})

	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author.ID == s.State.User.ID {
			return
		}
		if d.guildID != "" && m.GuildID != d.guildID {
			return
		}

		inbound := d.inboundFromDiscordMessage(m)

		d.logger.Info("discord message received",
			"author", m.Author.Username,
			"channel_id", m.ChannelID,
			"text_len", len(inbound.Text),
			"has_document", inbound.Document != nil,
		)
		bus.Publish(inbound)
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}
	d.logger.Info("discord bot connected", "user", session.State.User.Username)

	<-ctx.Done()
	d.logger.Info("discord bot disconnecting")
	return session.Close()
}

func (d *Discord) Stop() error { return nil }

func (d *Discord) Send(ctx context.Context, chatID string, text string) error {
	d.sendMessage(chatID, text)
	return nil
}

// inboundFromDiscordMessage maps a Discord message to the normalized inbound
// form. Only the first attachment is considered; its content type decides
// downstream whether it is converted.
func (d *Discord) inboundFromDiscordMessage(m *discordgo.MessageCreate) domain.InboundMessage {
	inbound := domain.InboundMessage{
		Channel:   "discord",
		ChatID:    m.ChannelID,
		SenderID:  m.Author.ID,
		Text:      m.Content,
		Timestamp: time.Now(),
	}
	if len(m.Attachments) > 0 {
		att := m.Attachments[0]
		d.recordAttachment(att)
		inbound.Document = &domain.DocumentRef{
			FileID:   att.ID,
			FileName: att.Filename,
			MimeType: att.ContentType,
		}
	}
	return inbound
}

// recordAttachment remembers the attachment so the resolver can answer for
// it later. The map is bounded; under churn old records simply fall out and
// their downloads fall back to the unsigned CDN path.
func (d *Discord) recordAttachment(att *discordgo.MessageAttachment) {
	cleanPath := att.URL
	if u, err := url.Parse(att.URL); err == nil {
		cleanPath = strings.TrimPrefix(u.Path, "/")
	}

	d.seenMu.Lock()
	defer d.seenMu.Unlock()
	if len(d.seen) >= discordMaxSeenRecords {
		d.seen = make(map[string]seenAttachment)
		d.byPath = make(map[string]string)
	}
	d.seen[att.ID] = seenAttachment{path: cleanPath}
	d.byPath[cleanPath] = att.URL
}

// Resolve implements domain.AttachmentResolver from the seen-attachment
// records.
func (d *Discord) Resolve(ctx context.Context, fileID string) (domain.RemoteFile, error) {
	d.seenMu.Lock()
	rec, ok := d.seen[fileID]
	d.seenMu.Unlock()
	if !ok {
		return domain.RemoteFile{}, nil
	}
	return domain.RemoteFile{Path: rec.path, ID: fileID}, nil
}

func (d *Discord) DownloadURL(remotePath string) string {
	d.seenMu.Lock()
	signed, ok := d.byPath[remotePath]
	d.seenMu.Unlock()
	if ok {
		return signed
	}
	return "https://cdn.discordapp.com/" + remotePath
}

func (d *Discord) sendMessage(channelID, text string) {
	for _, chunk := range splitMessage(text, discordMaxMsgLen) {
		if _, err := d.session.ChannelMessageSend(channelID, chunk); err != nil {
			d.logger.Error("discord send failed", "channel", channelID, "err", err)
		}
	}
}

// splitMessage splits text into chunks within maxLen, preferring newline
// boundaries.
func splitMessage(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > 0 {
		if len(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}
		cut := maxLen
		if idx := strings.LastIndex(msg[:maxLen], "\n"); idx > maxLen/2 {
			cut = idx + 1
		}
		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}
