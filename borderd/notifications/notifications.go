// Package notifications holds the message model shared by the presence
// engine and the delivery sinks, and resolves channel references to
// concrete destinations.
package notifications

import (
	"context"
	"strings"
)

// Sink sends a notification once and may later edit it in place. Delivery
// is best effort; callers do not retry.
type Sink interface {
	Deliver(ctx context.Context, dest Destination, msg Message) (Handle, error)
	Edit(ctx context.Context, h Handle, msg Message, attachments []Attachment) error
}

// Field is a single name/value pair of a message.
type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// Message is a rich notification: a title, ordered fields and optional
// images.
type Message struct {
	Title        string  `json:"title"`
	Color        int     `json:"color,omitempty"`
	Fields       []Field `json:"fields"`
	ThumbnailURL string  `json:"thumbnail_url,omitempty"`
	ImageURL     string  `json:"image_url,omitempty"`
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	c := m
	if m.Fields != nil {
		c.Fields = make([]Field, len(m.Fields))
		copy(c.Fields, m.Fields)
	}
	return c
}

// SetFieldValue replaces the value of the field at index i. It reports false
// when the index is out of range.
func (m *Message) SetFieldValue(i int, value string) bool {
	if i < 0 || i >= len(m.Fields) {
		return false
	}
	m.Fields[i].Value = value
	return true
}

// Destination is where a message is delivered. URL carries credentials and
// is never serialized.
type Destination struct {
	Ref string `json:"ref"`
	URL string `json:"-"`
}

// Handle identifies a delivered message so it can be edited.
type Handle struct {
	Destination Destination `json:"destination"`
	MessageID   string      `json:"message_id"`
}

// Valid reports whether the handle refers to a delivered message.
func (h Handle) Valid() bool {
	return h.MessageID != "" && h.Destination.URL != ""
}

// Attachment is a file uploaded alongside an edit. Message image URLs refer
// to it as "attachment://<Name>".
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// AttachmentURL returns the URL a message uses to reference an attachment.
func AttachmentURL(name string) string {
	return "attachment://" + name
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`,
	`*`, `\*`,
	`_`, `\_`,
	`~`, `\~`,
	"`", "\\`",
	`|`, `\|`,
	`>`, `\>`,
)

// EscapeMarkdown escapes characters that chat clients interpret as
// markdown formatting.
func EscapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}
