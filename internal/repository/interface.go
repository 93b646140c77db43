package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/weiawesome/wes-io-messenger/internal/domain"
)

// ErrDuplicate is returned by Create when the participant set already has a conversation.
var ErrDuplicate = errors.New("conversation already exists")

// ConversationRepository persists conversations and read watermarks.
type ConversationRepository interface {
	// Create inserts c. Returns ErrDuplicate when the participant set is taken.
	Create(ctx context.Context, c *domain.Conversation) error
	FindByID(ctx context.Context, id string) (*domain.Conversation, error)
	FindByParticipants(ctx context.Context, normalized []string) (*domain.Conversation, error)
	// ListByParticipant returns userID's conversations, most recently updated first.
	ListByParticipant(ctx context.Context, userID string) ([]domain.Conversation, error)
	// SetLastRead moves userID's watermark forward. It never moves it back.
	SetLastRead(ctx context.Context, conversationID, userID string, id domain.MessageID) error
	// Touch bumps updated_at when at is newer.
	Touch(ctx context.Context, conversationID string, at time.Time) error
	// Delete removes the conversation and every message it owns.
	Delete(ctx context.Context, id string) (int64, error)
}

// MessageRepository persists messages.
type MessageRepository interface {
	Create(ctx context.Context, m *domain.Message) error
	// Latest returns the newest message by id, domain.ErrNotFound when empty.
	Latest(ctx context.Context, conversationID string) (*domain.Message, error)
	// Page returns up to limit messages newest first after skipping skip, plus the total.
	Page(ctx context.Context, conversationID string, skip, limit int) ([]domain.Message, int64, error)
	// CountUnread counts messages with id > after not sent by userID.
	CountUnread(ctx context.Context, conversationID, userID string, after domain.MessageID) (int64, error)
}

// UserRepository reads participant profiles. Profiles are owned by the
// external profile subsystem; the messenger itself only reads them.
type UserRepository interface {
	FindByIDs(ctx context.Context, ids []string) (map[string]domain.User, error)
	// Upsert is the write hook for the profile subsystem and for seeding
	// fixtures. No messenger operation calls it.
	Upsert(ctx context.Context, u domain.User) error
}

// Store bundles the repositories of one backend.
type Store struct {
	Conversations ConversationRepository
	Messages      MessageRepository
	Users         UserRepository
	close         func(context.Context) error
}

// Close releases the backend.
func (s *Store) Close(ctx context.Context) error {
	if s.close == nil {
		return nil
	}
	return s.close(ctx)
}

// participantHash digests a normalized participant set.
func participantHash(normalized []string) string {
	sum := sha256.Sum256([]byte(domain.ParticipantKey(normalized)))
	return hex.EncodeToString(sum[:])
}
