package domain

import "time"

// InboundMessage is the normalized view of one incoming platform message.
// All content fields are optional; channels fill in whatever the platform
// delivered.
type InboundMessage struct {
	Channel   string
	ChatID    string
	SenderID  string
	Text      string
	Photo     []PhotoSize  // resolution variants, ascending by size
	Document  *DocumentRef // single document attachment, if any
	Timestamp time.Time
}

// PhotoSize is one resolution variant of a photo attachment.
type PhotoSize struct {
	FileID string
	Width  int
	Height int
}

// DocumentRef is a document attachment with the platform's MIME type hint.
type DocumentRef struct {
	FileID   string
	FileName string
	MimeType string
}

type OutboundMessage struct {
	Channel string
	ChatID  string
	Text    string
}

// UserKey returns the stable key identifying the conversation owner
// against the backend: sender when known, chat otherwise.
func (m InboundMessage) UserKey() string {
	if m.SenderID != "" {
		return m.SenderID
	}
	return m.ChatID
}
