package domain

import "time"

// Inbound event types.
const (
	TypeIdentify         = "identify"
	TypeSendMessage      = "send_message"
	TypeMarkRead         = "mark_read"
	TypeJoinConversation = "join_conversation"
	TypePing             = "ping"
)

// Outbound event types.
const (
	TypeIdentified          = "identified"
	TypeMessageReceived     = "message_received"
	TypeMessageSent         = "message_sent"
	TypeMessageSendError    = "message_send_error"
	TypeUnreadCountChanged  = "unread_count_changed"
	TypeMessageRead         = "message_read"
	TypeNewConversation     = "new_conversation"
	TypeJoinError           = "join_error"
	TypeConversationDeleted = "conversation_deleted"
	TypeError               = "error"
	TypePong                = "pong"
)

// BaseMessage carries the discriminator every frame has.
type BaseMessage struct {
	Type string `json:"type"`
}

// IdentifyMessage binds a connection to a user.
type IdentifyMessage struct {
	Type       string `json:"type"`
	UserID     string `json:"user_id"`
	DeviceType string `json:"device_type"`
}

// SendMessageRequest is a client send.
type SendMessageRequest struct {
	Type           string      `json:"type"`
	ConversationID string      `json:"conversation_id"`
	SenderID       string      `json:"sender_id"`
	Body           string      `json:"body"`
	MessageType    MessageType `json:"message_type"`
	Attachments    []string    `json:"attachments"`
	SuggestionID   string      `json:"suggestion_id,omitempty"`
	ClientMsgID    string      `json:"client_msg_id,omitempty"`
}

// ToNewMessage converts the request into an append input.
func (r SendMessageRequest) ToNewMessage() NewMessage {
	return NewMessage{
		ConversationID: r.ConversationID,
		SenderID:       r.SenderID,
		Body:           r.Body,
		Type:           r.MessageType,
		Attachments:    r.Attachments,
	}.Normalize()
}

// MarkReadRequest moves a watermark. UserID defaults to the session's user.
type MarkReadRequest struct {
	Type           string `json:"type"`
	UserID         string `json:"user_id,omitempty"`
	ConversationID string `json:"conversation_id"`
}

// JoinConversationRequest names an existing conversation or a participant set.
type JoinConversationRequest struct {
	Type           string   `json:"type"`
	ConversationID string   `json:"conversation_id,omitempty"`
	ParticipantIDs []string `json:"participant_ids,omitempty"`
}

// IdentifiedMessage confirms an identify.
type IdentifiedMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

// MessageReceivedMessage delivers a persisted message to a recipient.
type MessageReceivedMessage struct {
	Type    string  `json:"type"`
	Message Message `json:"message"`
}

// MessageSentMessage acknowledges a send to the sender's sessions.
type MessageSentMessage struct {
	Type           string    `json:"type"`
	MessageID      MessageID `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	ClientMsgID    string    `json:"client_msg_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// MessageSendErrorMessage reports a failed send.
type MessageSendErrorMessage struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	Reason      string `json:"reason"`
	ClientMsgID string `json:"client_msg_id,omitempty"`
}

// UnreadCountChangedMessage tells a client to refresh a conversation's count.
type UnreadCountChangedMessage struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

// MessageReadMessage announces that a user moved their watermark.
type MessageReadMessage struct {
	Type           string    `json:"type"`
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	MessageID      MessageID `json:"message_id"`
}

// NewConversationMessage announces a conversation to its participants.
type NewConversationMessage struct {
	Type         string       `json:"type"`
	Conversation Conversation `json:"conversation"`
}

// JoinErrorMessage reports a failed join.
type JoinErrorMessage struct {
	Type           string `json:"type"`
	Reason         string `json:"reason"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// ConversationDeletedMessage announces a delete.
type ConversationDeletedMessage struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

// ErrorMessage is a generic error frame.
type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewErrorMessage builds an error frame.
func NewErrorMessage(code, message string) *ErrorMessage {
	return &ErrorMessage{Type: TypeError, Code: code, Message: message}
}

// PongMessage answers a ping.
type PongMessage struct {
	Type string `json:"type"`
}
