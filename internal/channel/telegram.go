package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"chatbridge/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
	telegramPollTimeout    = 30
)

// Telegram implements domain.Channel for the Telegram Bot API. It also
// implements domain.AttachmentResolver: photos and documents arrive as file
// identifiers that must be resolved through GetFile before their bytes can
// be downloaded from the file endpoint.
type Telegram struct {
	token     string
	allowFrom []int64 // allowed user IDs (empty = allow all)
	parseMode string

	bot    *tgbotapi.BotAPI
	bus    domain.MessageBus
	logger *slog.Logger
}

type TelegramConfig struct {
	Token     string
	AllowFrom []string // user IDs as strings
	ParseMode string
	Logger    *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.ParseMode == "" {
		cfg.ParseMode = "Markdown"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:     cfg.Token,
		allowFrom: allowed,
		parseMode: cfg.ParseMode,
		logger:    cfg.Logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects to Telegram and begins polling for updates.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	t.bus = bus

	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)

	bus.OnOutbound("telegram", func(msg domain.OutboundMessage) {
		chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
		if err != nil {
			t.logger.Error("invalid chat ID for telegram outbound", "chat_id", msg.ChatID, "err", err)
			return
		}
		t.sendMessage(chatID, msg.Text)
	})

	u := tgbotapi.NewUpdate(0)
	u.Timeout = telegramPollTimeout
	updates := bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(update)
		}
	}
}

// Stop is a no-op: the bot stops when Start's context is cancelled, and
// StopReceivingUpdates panics when called twice.
func (t *Telegram) Stop() error {
	return nil
}

func (t *Telegram) Send(ctx context.Context, chatID string, text string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %w", err)
	}
	t.sendMessage(id, text)
	return nil
}

// Resolve implements domain.AttachmentResolver via GetFile.
func (t *Telegram) Resolve(ctx context.Context, fileID string) (domain.RemoteFile, error) {
	file, err := t.bot.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return domain.RemoteFile{}, fmt.Errorf("telegram getFile %s: %w", fileID, err)
	}
	return domain.RemoteFile{Path: file.FilePath, ID: file.FileID}, nil
}

// DownloadURL builds the authenticated file-endpoint URL for a remote path.
func (t *Telegram) DownloadURL(remotePath string) string {
	return fmt.Sprintf(tgbotapi.FileEndpoint, t.token, remotePath)
}

func (t *Telegram) handleUpdate(update tgbotapi.Update) {
	if update.Message == nil || update.Message.Chat == nil {
		return
	}
	msg := update.Message
	chatID := msg.Chat.ID

	if msg.From != nil && !t.isAllowed(msg.From.ID) {
		t.logger.Warn("unauthorized telegram user",
			"user_id", msg.From.ID,
			"username", msg.From.UserName,
		)
		t.sendMessage(chatID, "Unauthorized. Your user ID is not in the allow list.")
		return
	}

	if msg.IsCommand() {
		t.handleCommand(chatID, msg)
		return
	}

	inbound := inboundFromTelegramMessage(msg)

	t.logger.Info("telegram message received",
		"chat_id", chatID,
		"text_len", len(inbound.Text),
		"has_photo", len(inbound.Photo) > 0,
		"has_document", inbound.Document != nil,
	)

	typing := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	_, _ = t.bot.Send(typing)

	t.bus.Publish(inbound)
}

// inboundFromTelegramMessage maps one Telegram message to the normalized
// inbound form. Captions count as text; photo variants keep Telegram's
// ascending-by-size order.
func inboundFromTelegramMessage(msg *tgbotapi.Message) domain.InboundMessage {
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}

	inbound := domain.InboundMessage{
		Channel:   "telegram",
		ChatID:    strconv.FormatInt(msg.Chat.ID, 10),
		Text:      text,
		Timestamp: time.Unix(int64(msg.Date), 0),
	}
	if msg.From != nil {
		inbound.SenderID = strconv.FormatInt(msg.From.ID, 10)
	}

	for _, p := range msg.Photo {
		inbound.Photo = append(inbound.Photo, domain.PhotoSize{
			FileID: p.FileID,
			Width:  p.Width,
			Height: p.Height,
		})
	}
	if msg.Document != nil {
		inbound.Document = &domain.DocumentRef{
			FileID:   msg.Document.FileID,
			FileName: msg.Document.FileName,
			MimeType: msg.Document.MimeType,
		}
	}
	return inbound
}

func (t *Telegram) handleCommand(chatID int64, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		t.sendMessage(chatID, "Hello! Send me a message, a photo, or an image file and I'll pass it along.\n\nCommands:\n/status — Show bot status\n/help — Show this message")
	case "help":
		t.sendMessage(chatID, "Send any text or image and I'll forward it to the assistant and relay the reply.\n\nCommands:\n/status — Bot status")
	case "status":
		t.sendMessage(chatID, fmt.Sprintf("ChatBridge online\n\nBot: @%s\nChat ID: %d", t.bot.Self.UserName, chatID))
	default:
		t.sendMessage(chatID, "Unknown command. Type /help for available commands.")
	}
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

func (t *Telegram) sendMessage(chatID int64, text string) {
	// Telegram caps messages at 4096 chars; chunk below that on newlines.
	for first := true; len(text) > 0 || first; first = false {
		chunk := text
		if len(chunk) > telegramMaxMsgLen {
			cutAt := strings.LastIndex(chunk[:telegramMaxMsgLen], "\n")
			if cutAt < telegramMaxMsgLen/2 {
				cutAt = telegramMaxMsgLen
			}
			chunk = text[:cutAt]
			text = text[cutAt:]
		} else {
			text = ""
		}
		t.sendChunk(chatID, chunk)
	}
}

// sendChunk sends a single message chunk with retry and rate limit handling.
// Strategy: try the configured parse mode first, fall back to plain text on
// parse errors, back off on 429s.
func (t *Telegram) sendChunk(chatID int64, text string) {
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)
		if attempt == 0 && t.parseMode != "" {
			msg.ParseMode = t.parseMode
		}

		_, err := t.bot.Send(msg)
		if err == nil {
			return
		}

		errStr := err.Error()

		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			retryAfter := time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off",
				"retry_after", retryAfter, "attempt", attempt+1,
			)
			time.Sleep(retryAfter)
			continue
		}

		if attempt == 0 && msg.ParseMode != "" &&
			strings.Contains(errStr, "can't parse entities") {
			t.logger.Warn("telegram parse error, retrying as plain text",
				"err", err, "parse_mode", t.parseMode,
			)
			plainMsg := tgbotapi.NewMessage(chatID, text)
			if _, err2 := t.bot.Send(plainMsg); err2 == nil {
				return
			}
		}

		if attempt < telegramMaxSendRetries {
			backoff := time.Duration(attempt+1) * time.Second
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
			time.Sleep(backoff)
			continue
		}

		t.logger.Error("telegram send failed after retries", "err", err, "attempts", telegramMaxSendRetries+1)
	}
}
