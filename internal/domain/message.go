package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MessageID is a time-ordered id. Comparing two ids compares creation order,
// which makes an id usable as a read watermark. Zero means "none".
type MessageID int64

// String returns the decimal form.
func (id MessageID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// MarshalJSON encodes the id as a string so clients never lose precision.
func (id MessageID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON accepts either a string or a number.
func (id *MessageID) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*id = 0
		return nil
	}
	parsed, err := ParseMessageID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseMessageID parses a decimal id.
func ParseMessageID(s string) (MessageID, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: invalid message id %q", ErrValidation, s)
	}
	return MessageID(n), nil
}

// MessageType enumerates message kinds.
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeVideo MessageType = "video"
	MessageTypeAudio MessageType = "audio"
)

// Valid reports whether t is a known type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeVideo, MessageTypeAudio:
		return true
	}
	return false
}

// Limits applied to inbound messages.
const (
	MaxBodyLength  = 4000
	MaxAttachments = 10
)

// Message is an immutable chat entry.
type Message struct {
	ID             MessageID   `json:"id"`
	ConversationID string      `json:"conversation_id"`
	SenderID       string      `json:"sender_id"`
	Body           string      `json:"body"`
	Type           MessageType `json:"message_type"`
	Attachments    []string    `json:"attachments"`
	CreatedAt      time.Time   `json:"created_at"`
}

// NewMessage is the input of an append.
type NewMessage struct {
	ConversationID string
	SenderID       string
	Body           string
	Type           MessageType
	Attachments    []string
}

// Normalize trims fields and defaults the type to text.
func (m NewMessage) Normalize() NewMessage {
	m.ConversationID = strings.TrimSpace(m.ConversationID)
	m.SenderID = strings.TrimSpace(m.SenderID)
	if m.Type == "" {
		m.Type = MessageTypeText
	}
	if len(m.Attachments) > 0 {
		cleaned := make([]string, 0, len(m.Attachments))
		for _, a := range m.Attachments {
			if a = strings.TrimSpace(a); a != "" {
				cleaned = append(cleaned, a)
			}
		}
		m.Attachments = cleaned
	}
	return m
}

// Validate checks the shape of a normalized message.
// Text needs a body. Media types need at least one attachment and may have an empty body.
func (m NewMessage) Validate() error {
	switch {
	case m.SenderID == "":
		return fmt.Errorf("%w: sender_id is required", ErrValidation)
	case m.ConversationID == "":
		return fmt.Errorf("%w: conversation_id is required", ErrValidation)
	case !m.Type.Valid():
		return fmt.Errorf("%w: unknown message type %q", ErrValidation, m.Type)
	case len([]rune(m.Body)) > MaxBodyLength:
		return fmt.Errorf("%w: body exceeds %d characters", ErrValidation, MaxBodyLength)
	case len(m.Attachments) > MaxAttachments:
		return fmt.Errorf("%w: at most %d attachments", ErrValidation, MaxAttachments)
	}

	if m.Type == MessageTypeText && strings.TrimSpace(m.Body) == "" && len(m.Attachments) == 0 {
		return fmt.Errorf("%w: text message needs a body", ErrValidation)
	}
	if m.Type != MessageTypeText && len(m.Attachments) == 0 {
		return fmt.Errorf("%w: %s message needs an attachment", ErrValidation, m.Type)
	}
	return nil
}

// MessagePage is one page of history, oldest first.
type MessagePage struct {
	Messages    []Message `json:"messages"`
	CurrentPage int       `json:"current_page"`
	PageSize    int       `json:"page_size"`
	TotalPages  int       `json:"total_pages"`
	Total       int64     `json:"total"`
	HasMore     bool      `json:"has_more"`
}

// Attachment is an uploaded file that messages can reference by URL.
type Attachment struct {
	Key         string `json:"key"`
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size"`
}
