package domain

import (
	"strings"
	"time"
)

// PartKind tags a ContentPart.
type PartKind string

const (
	PartText  PartKind = "text"
	PartImage PartKind = "image"
)

// ContentPart is one unit of message content, tagged by kind.
// Text carries Value; Image carries Name and DataURL
// ("data:<mime>;base64,<payload>").
type ContentPart struct {
	Kind    PartKind
	Value   string
	Name    string
	DataURL string
}

// TextPart constructs a text content part.
func TextPart(value string) ContentPart {
	return ContentPart{Kind: PartText, Value: value}
}

// ImagePart constructs an image content part from a data URL.
func ImagePart(name, dataURL string) ContentPart {
	return ContentPart{Kind: PartImage, Name: name, DataURL: dataURL}
}

// PromptEnvelope is the ordered sequence of content parts sent to the
// backend for one inbound message. It is built once per message and never
// mutated after hand-off. An empty envelope is valid: it means the message
// carried no text and no usable attachment.
type PromptEnvelope struct {
	Parts     []ContentPart
	CreatedAt time.Time
}

func (e PromptEnvelope) Empty() bool { return len(e.Parts) == 0 }

// ReplyEnvelope is the backend's ordered reply.
type ReplyEnvelope struct {
	Parts []ContentPart
}

// RenderText joins the values of all text parts with newlines, in their
// original order. Non-text parts are dropped from the rendering. The result
// may be empty when the reply carried no text parts.
func (e ReplyEnvelope) RenderText() string {
	var texts []string
	for _, p := range e.Parts {
		if p.Kind == PartText {
			texts = append(texts, p.Value)
		}
	}
	return strings.Join(texts, "\n")
}
