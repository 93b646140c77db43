package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/weiawesome/wes-io-messenger/internal/domain"
)

// memoryDB is the shared state of the in-memory backend. One lock covers all
// three collections so cascading deletes are atomic.
type memoryDB struct {
	mu            sync.RWMutex
	conversations map[string]*domain.Conversation
	byKey         map[string]string           // participant key -> conversation id
	messages      map[string][]domain.Message // conversation id -> messages, ascending id
	users         map[string]domain.User
}

// NewMemoryStore returns a process-local store for development and tests.
func NewMemoryStore() *Store {
	db := &memoryDB{
		conversations: make(map[string]*domain.Conversation),
		byKey:         make(map[string]string),
		messages:      make(map[string][]domain.Message),
		users:         make(map[string]domain.User),
	}
	return &Store{
		Conversations: &MemoryConversationRepository{db: db},
		Messages:      &MemoryMessageRepository{db: db},
		Users:         &MemoryUserRepository{db: db},
	}
}

func cloneConversation(c *domain.Conversation) domain.Conversation {
	out := *c
	out.Participants = append([]string(nil), c.Participants...)
	out.LastRead = make(map[string]domain.MessageID, len(c.LastRead))
	for k, v := range c.LastRead {
		out.LastRead[k] = v
	}
	return out
}

func cloneMessage(m domain.Message) domain.Message {
	m.Attachments = append([]string{}, m.Attachments...)
	return m
}

// MemoryConversationRepository implements ConversationRepository in memory.
type MemoryConversationRepository struct {
	db *memoryDB
}

// Create inserts a conversation.
func (r *MemoryConversationRepository) Create(_ context.Context, c *domain.Conversation) error {
	key := domain.ParticipantKey(c.Participants)

	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if _, taken := r.db.byKey[key]; taken {
		return ErrDuplicate
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	stored := cloneConversation(c)
	r.db.conversations[c.ID] = &stored
	r.db.byKey[key] = c.ID
	return nil
}

// FindByID retrieves a conversation.
func (r *MemoryConversationRepository) FindByID(_ context.Context, id string) (*domain.Conversation, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	c, ok := r.db.conversations[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := cloneConversation(c)
	return &out, nil
}

// FindByParticipants retrieves the conversation of an exact participant set.
func (r *MemoryConversationRepository) FindByParticipants(ctx context.Context, normalized []string) (*domain.Conversation, error) {
	r.db.mu.RLock()
	id, ok := r.db.byKey[domain.ParticipantKey(normalized)]
	r.db.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r.FindByID(ctx, id)
}

// ListByParticipant returns userID's conversations, most recent first.
func (r *MemoryConversationRepository) ListByParticipant(_ context.Context, userID string) ([]domain.Conversation, error) {
	r.db.mu.RLock()
	out := make([]domain.Conversation, 0)
	for _, c := range r.db.conversations {
		if c.HasParticipant(userID) {
			out = append(out, cloneConversation(c))
		}
	}
	r.db.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// SetLastRead raises a participant's watermark.
func (r *MemoryConversationRepository) SetLastRead(_ context.Context, conversationID, userID string, id domain.MessageID) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	c, ok := r.db.conversations[conversationID]
	if !ok || !c.HasParticipant(userID) {
		return domain.ErrNotFound
	}
	if c.LastRead == nil {
		c.LastRead = make(map[string]domain.MessageID)
	}
	if id > c.LastRead[userID] {
		c.LastRead[userID] = id
	}
	return nil
}

// Touch bumps updated_at.
func (r *MemoryConversationRepository) Touch(_ context.Context, conversationID string, at time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if c, ok := r.db.conversations[conversationID]; ok && at.After(c.UpdatedAt) {
		c.UpdatedAt = at
	}
	return nil
}

// Delete removes the conversation and its messages.
func (r *MemoryConversationRepository) Delete(_ context.Context, id string) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	c, ok := r.db.conversations[id]
	if !ok {
		return 0, domain.ErrNotFound
	}
	removed := int64(len(r.db.messages[id]))
	delete(r.db.byKey, domain.ParticipantKey(c.Participants))
	delete(r.db.conversations, id)
	delete(r.db.messages, id)
	return removed, nil
}

// MemoryMessageRepository implements MessageRepository in memory.
type MemoryMessageRepository struct {
	db *memoryDB
}

// Create inserts a message, keeping the slice ordered by id.
func (r *MemoryMessageRepository) Create(_ context.Context, m *domain.Message) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	list := r.db.messages[m.ConversationID]
	i := sort.Search(len(list), func(i int) bool { return list[i].ID >= m.ID })
	if i < len(list) && list[i].ID == m.ID {
		return fmt.Errorf("%w: duplicate message id %s", domain.ErrPersistence, m.ID)
	}
	list = append(list, domain.Message{})
	copy(list[i+1:], list[i:])
	list[i] = cloneMessage(*m)
	r.db.messages[m.ConversationID] = list
	return nil
}

// Latest returns the newest message of a conversation.
func (r *MemoryMessageRepository) Latest(_ context.Context, conversationID string) (*domain.Message, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	list := r.db.messages[conversationID]
	if len(list) == 0 {
		return nil, domain.ErrNotFound
	}
	m := cloneMessage(list[len(list)-1])
	return &m, nil
}

// Page returns one window of messages, newest first.
func (r *MemoryMessageRepository) Page(_ context.Context, conversationID string, skip, limit int) ([]domain.Message, int64, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	list := r.db.messages[conversationID]
	total := int64(len(list))
	out := make([]domain.Message, 0, limit)
	for i := len(list) - 1 - skip; i >= 0 && len(out) < limit; i-- {
		out = append(out, cloneMessage(list[i]))
	}
	return out, total, nil
}

// CountUnread counts messages past the watermark from other senders.
func (r *MemoryMessageRepository) CountUnread(_ context.Context, conversationID, userID string, after domain.MessageID) (int64, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	var n int64
	for _, m := range r.db.messages[conversationID] {
		if m.ID > after && m.SenderID != userID {
			n++
		}
	}
	return n, nil
}

// MemoryUserRepository implements UserRepository in memory.
type MemoryUserRepository struct {
	db *memoryDB
}

// FindByIDs returns the profiles that exist among ids.
func (r *MemoryUserRepository) FindByIDs(_ context.Context, ids []string) (map[string]domain.User, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	out := make(map[string]domain.User, len(ids))
	for _, id := range ids {
		if u, ok := r.db.users[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

// Upsert inserts or replaces a profile.
func (r *MemoryUserRepository) Upsert(_ context.Context, u domain.User) error {
	r.db.mu.Lock()
	r.db.users[u.ID] = u
	r.db.mu.Unlock()
	return nil
}
