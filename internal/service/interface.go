package service

import (
	"context"
	"io"

	"github.com/weiawesome/wes-io-messenger/internal/domain"
)

// ConversationService owns conversation lifecycle and read state.
type ConversationService interface {
	// Create returns the conversation of the participant set, creating it when
	// absent. created reports whether this call inserted it.
	Create(ctx context.Context, participantIDs []string) (conv *domain.Conversation, created bool, err error)
	FindByID(ctx context.Context, id string) (*domain.Conversation, error)
	// MarkRead moves userID's watermark to the newest message and returns it.
	// An empty conversation returns zero and no error.
	MarkRead(ctx context.Context, userID, conversationID string) (domain.MessageID, error)
	// MarkReadAt moves userID's watermark to id when id is newer and returns
	// the resulting watermark. Messages after id stay unread.
	MarkReadAt(ctx context.Context, userID, conversationID string, id domain.MessageID) (domain.MessageID, error)
	// Delete removes the conversation and its messages and returns what was removed.
	Delete(ctx context.Context, id string) (*domain.Conversation, error)
	// List returns userID's conversations with unread counts, unread first.
	List(ctx context.Context, userID, search string) ([]domain.ConversationSummary, error)
}

// MessageService appends and pages messages.
type MessageService interface {
	Append(ctx context.Context, in domain.NewMessage) (*domain.Message, error)
	Page(ctx context.Context, conversationID string, page, pageSize int) (*domain.MessagePage, error)
}

// AttachmentService stores files referenced by messages.
type AttachmentService interface {
	Upload(ctx context.Context, conversationID, filename, contentType string, size int64, r io.Reader) (*domain.Attachment, error)
	Purge(ctx context.Context, conversationID string) error
}

// IDGenerator hands out time-ordered message ids.
type IDGenerator interface {
	Next() (int64, error)
}
