package slack

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/okian/spotted/internal/domain/model"
)

// Envelope types delivered by the Events API.
const (
	TypeURLVerification = "url_verification"
	TypeEventCallback   = "event_callback"
)

// Reasons an inbound event is not a candidate message.
const (
	IgnoreNotCallback = "not_callback"
	IgnoreNotMessage  = "not_message"
	IgnoreSubtype     = "subtype"
	IgnoreBot         = "bot_message"
	IgnoreNoUser      = "no_user"
	IgnoreMalformed   = "malformed"
)

// acceptedSubtypes are the message subtypes a spot can arrive as. Slack
// marks messages posted together with a file as file_share.
var acceptedSubtypes = map[string]bool{"": true, "file_share": true} //nolint:gochecknoglobals // lookup table

// Envelope is the outer Events API payload, shared by HTTP and Socket Mode.
type Envelope struct {
	Token     string          `json:"token,omitempty"`
	Type      string          `json:"type"`
	Challenge string          `json:"challenge,omitempty"`
	TeamID    string          `json:"team_id,omitempty"`
	EventID   string          `json:"event_id,omitempty"`
	EventTime int64           `json:"event_time,omitempty"`
	Event     json.RawMessage `json:"event,omitempty"`
}

// File is the subset of a Slack file object the bot needs.
type File struct {
	ID       string `json:"id"`
	Mimetype string `json:"mimetype"`
}

// MessagePayload is a message event or a conversations.history entry.
type MessagePayload struct {
	Type     string `json:"type"`
	Subtype  string `json:"subtype,omitempty"`
	User     string `json:"user,omitempty"`
	BotID    string `json:"bot_id,omitempty"`
	Text     string `json:"text"`
	Channel  string `json:"channel,omitempty"`
	TS       string `json:"ts"`
	ThreadTS string `json:"thread_ts,omitempty"`
	Files    []File `json:"files,omitempty"`
}

// ParseEnvelope decodes an Events API body.
func ParseEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrBadPayload)
	}
	return env, nil
}

// MessageEvent converts a callback into the pipeline's event. A non-empty
// reason means the callback is not a candidate message and must be dropped.
func (e Envelope) MessageEvent(receivedAt time.Time) (model.MessageEvent, string) {
	if e.Type != TypeEventCallback || len(e.Event) == 0 {
		return model.MessageEvent{}, IgnoreNotCallback
	}
	var m MessagePayload
	if err := json.Unmarshal(e.Event, &m); err != nil {
		return model.MessageEvent{}, IgnoreMalformed
	}
	if reason := m.ignoreReason(); reason != "" {
		return model.MessageEvent{}, reason
	}
	return m.toModel(e.EventID, receivedAt), ""
}

func (m MessagePayload) ignoreReason() string {
	switch {
	case m.Type != "message":
		return IgnoreNotMessage
	case !acceptedSubtypes[m.Subtype]:
		return IgnoreSubtype
	case m.BotID != "":
		return IgnoreBot
	case strings.TrimSpace(m.User) == "":
		return IgnoreNoUser
	case m.Channel == "" || m.TS == "":
		return IgnoreMalformed
	}
	return ""
}

func (m MessagePayload) toModel(deliveryID string, receivedAt time.Time) model.MessageEvent {
	atts := make([]model.Attachment, 0, len(m.Files))
	for _, f := range m.Files {
		atts = append(atts, model.Attachment{FileID: f.ID, MimeType: f.Mimetype})
	}
	return model.MessageEvent{
		EventID:     model.MessageKey(m.Channel, m.TS),
		DeliveryID:  deliveryID,
		ChannelID:   m.Channel,
		AuthorID:    strings.TrimSpace(m.User),
		RawText:     m.Text,
		MessageTS:   m.TS,
		ThreadTS:    m.ThreadTS,
		Attachments: atts,
		ReceivedAt:  receivedAt,
	}
}
