// Package model contains domain models passed between layers.
package model

import (
	"strings"
	"time"
)

// MessageEvent is one chat message as delivered by the platform.
// It is immutable once received.
type MessageEvent struct {
	EventID     string       // dedupe identity of the underlying message
	DeliveryID  string       // transport delivery id, for logs only
	ChannelID   string       // channel the message was posted in
	AuthorID    string       // user who posted the message
	RawText     string       // message text including mention tokens
	MessageTS   string       // platform timestamp, used to re-fetch the message
	ThreadTS    string       // parent timestamp when posted as a thread reply
	Attachments []Attachment // files attached at delivery time, possibly empty
	ReceivedAt  time.Time
}

// MessageKey builds the EventID for a message so that every delivery of the
// same message (retries, socket redeliveries) collapses to one identity.
func MessageKey(channelID, messageTS string) string {
	return channelID + ":" + messageTS
}

// MessageRef locates a message for a re-fetch.
type MessageRef struct {
	ChannelID string
	MessageTS string
	ThreadTS  string // empty unless the message is a thread reply
}

// InThread reports whether the message is a reply inside a thread rather
// than a top-level post (a thread parent carries its own ts as thread_ts).
func (r MessageRef) InThread() bool {
	return r.ThreadTS != "" && r.ThreadTS != r.MessageTS
}

// Ref returns the re-fetch reference of e.
func (e MessageEvent) Ref() MessageRef { //nolint:gocritic // hugeParam: events are values
	return MessageRef{ChannelID: e.ChannelID, MessageTS: e.MessageTS, ThreadTS: e.ThreadTS}
}

// Attachment is a file attached to a message.
type Attachment struct {
	FileID   string
	MimeType string
}

// IsImage reports whether the attachment has an image/* mime type.
func (a Attachment) IsImage() bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(a.MimeType)), "image/")
}

// Images returns the image attachments of atts, preserving order.
func Images(atts []Attachment) []Attachment {
	var out []Attachment
	for _, a := range atts {
		if a.IsImage() {
			out = append(out, a)
		}
	}
	return out
}
