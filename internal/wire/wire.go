// Package wire defines the JSON frames exchanged over the /ws socket.
package wire

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/Avicted/courier/internal/inbox"
	"github.com/Avicted/courier/internal/message"
	"github.com/Avicted/courier/internal/user"
)

// Server to client.
const (
	TypeInboxChanges = "inbox.changes"
	TypeMessageNew   = "message.new"
	TypeError        = "error"
)

// Client to server.
const (
	TypeMessageSend = "message.send"
	TypeMessageRead = "message.read"
)

// Error codes carried by ErrorFrame.
const (
	CodeInvalidMessage  = "invalid_message"
	CodeUnsupportedType = "unsupported_type"
	CodeRateLimited     = "rate_limited"
	CodeNotFound        = "not_found"
	CodeServerError     = "server_error"
)

type Message struct {
	ID      string          `json:"id"`
	From    string          `json:"from"`
	To      string          `json:"to"`
	Content message.Content `json:"content"`
	SentAt  string          `json:"sent_at"`
	Read    bool            `json:"read"`
}

func FromMessage(m message.Message) Message {
	sentAt := ""
	if !m.SentAt.IsZero() {
		sentAt = m.SentAt.UTC().Format(time.RFC3339Nano)
	}
	return Message{
		ID:      string(m.ID),
		From:    string(m.FromID),
		To:      string(m.ToID),
		Content: m.Content,
		SentAt:  sentAt,
		Read:    m.Read,
	}
}

// ToMessage converts without validating. A missing or unparsable sent_at
// yields a zero time, which message.Validate rejects downstream.
func (w Message) ToMessage() message.Message {
	var sentAt time.Time
	if w.SentAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, w.SentAt); err == nil {
			sentAt = t.UTC()
		}
	}
	return message.Message{
		ID:      message.ID(w.ID),
		FromID:  user.ID(w.From),
		ToID:    user.ID(w.To),
		Content: w.Content,
		SentAt:  sentAt,
		Read:    w.Read,
	}
}

type Change struct {
	Kind    inbox.ChangeKind `json:"kind"`
	Message Message          `json:"message"`
}

type ChangesFrame struct {
	Type    string   `json:"type"`
	Changes []Change `json:"changes"`
}

type MessageFrame struct {
	Type    string  `json:"type"`
	Message Message `json:"message"`
}

type ErrorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type SendFrame struct {
	Type      string          `json:"type"`
	Recipient string          `json:"recipient"`
	Content   message.Content `json:"content"`
}

type ReadFrame struct {
	Type    string `json:"type"`
	Partner string `json:"partner"`
}

// Events converts a changes frame into reconciler input. Entries are kept
// even when incomplete.
func (f ChangesFrame) Events() []inbox.ChangeEvent {
	events := make([]inbox.ChangeEvent, 0, len(f.Changes))
	for _, c := range f.Changes {
		events = append(events, inbox.ChangeEvent{Kind: c.Kind, Message: c.Message.ToMessage()})
	}
	return events
}

// PeekType decodes only the "type" field of a frame.
func PeekType(data []byte) (string, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return "", err
	}
	return strings.TrimSpace(head.Type), nil
}
