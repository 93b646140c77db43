package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/weiawesome/wes-io-messenger/internal/cache"
	"github.com/weiawesome/wes-io-messenger/internal/domain"
	"github.com/weiawesome/wes-io-messenger/internal/repository"
	"github.com/weiawesome/wes-io-messenger/pkg/log"
	"github.com/weiawesome/wes-io-messenger/pkg/pubsub"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// messageServiceImpl implements MessageService.
type messageServiceImpl struct {
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	ids           IDGenerator
	cache         cache.PageCache
	cacheTTL      time.Duration
	publisher     pubsub.Publisher
	sf            singleflight.Group
	now           func() time.Time
}

// NewMessageService creates a message service. A nil cache disables page caching.
func NewMessageService(
	store *repository.Store,
	ids IDGenerator,
	pageCache cache.PageCache,
	cacheTTL time.Duration,
	publisher pubsub.Publisher,
) MessageService {
	if pageCache == nil {
		pageCache = cache.NopCache{}
	}
	return &messageServiceImpl{
		conversations: store.Conversations,
		messages:      store.Messages,
		ids:           ids,
		cache:         pageCache,
		cacheTTL:      cacheTTL,
		publisher:     publisher,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Append validates, assigns an id and persists a message. The conversation
// must exist and the sender must belong to it.
func (s *messageServiceImpl) Append(ctx context.Context, in domain.NewMessage) (*domain.Message, error) {
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return nil, err
	}

	conv, err := s.conversations.FindByID(ctx, in.ConversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(in.SenderID) {
		return nil, fmt.Errorf("%w: sender %s", domain.ErrNotParticipant, in.SenderID)
	}

	id, err := s.ids.Next()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}

	attachments := in.Attachments
	if attachments == nil {
		attachments = []string{}
	}
	msg := &domain.Message{
		ID:             domain.MessageID(id),
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Body:           in.Body,
		Type:           in.Type,
		Attachments:    attachments,
		CreatedAt:      s.now().Truncate(time.Millisecond),
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, err
	}

	l := log.Ctx(ctx)
	if err := s.conversations.Touch(ctx, msg.ConversationID, msg.CreatedAt); err != nil {
		l.Warn().Err(err).Str(log.FieldConversationID, msg.ConversationID).Msg("failed to touch conversation")
	}
	if err := s.cache.Bump(ctx, msg.ConversationID); err != nil {
		l.Warn().Err(err).Str(log.FieldConversationID, msg.ConversationID).Msg("failed to invalidate page cache")
	}

	l.Debug().
		Str(log.FieldConversationID, msg.ConversationID).
		Str(log.FieldMessageID, msg.ID.String()).
		Msg("message persisted")
	publish(ctx, s.publisher, pubsub.EventMessageCreated, msg.ConversationID, msg)

	return msg, nil
}

// Page returns one page of history, oldest first within the page. Page 1 is
// the newest messages.
func (s *messageServiceImpl) Page(ctx context.Context, conversationID string, page, pageSize int) (*domain.MessagePage, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("%w: conversation_id is required", domain.ErrValidation)
	}
	page, pageSize = normalizePage(page, pageSize, MaxPageSize)

	l := log.Ctx(ctx)
	version, err := s.cache.Version(ctx, conversationID)
	if err != nil {
		l.Warn().Err(err).Msg("cache version error")
		return s.fetch(ctx, conversationID, page, pageSize)
	}
	key := s.cache.BuildKey(conversationID, version, page, pageSize)

	result, err, _ := s.sf.Do(key, func() (any, error) {
		return s.fetchWithCache(ctx, conversationID, page, pageSize, key)
	})
	if err != nil {
		return nil, err
	}

	p, ok := result.(*domain.MessagePage)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from singleflight")
	}
	return p, nil
}

func (s *messageServiceImpl) fetchWithCache(ctx context.Context, conversationID string, page, pageSize int, key string) (*domain.MessagePage, error) {
	cached, err := s.cache.Get(ctx, key)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Msg("cache get error")
	}

	result, err := s.fetch(ctx, conversationID, page, pageSize)
	if err != nil {
		return nil, err
	}

	go func() {
		cacheCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.cache.Set(cacheCtx, key, result, s.cacheTTL); err != nil {
			l := log.L()
			l.Warn().Err(err).Msg("cache set error")
		}
	}()

	return result, nil
}

func (s *messageServiceImpl) fetch(ctx context.Context, conversationID string, page, pageSize int) (*domain.MessagePage, error) {
	skip := (page - 1) * pageSize
	newestFirst, total, err := s.messages.Page(ctx, conversationID, skip, pageSize)
	if err != nil {
		return nil, err
	}

	msgs := make([]domain.Message, len(newestFirst))
	for i, m := range newestFirst {
		msgs[len(newestFirst)-1-i] = m
	}

	return &domain.MessagePage{
		Messages:    msgs,
		CurrentPage: page,
		PageSize:    pageSize,
		TotalPages:  int((total + int64(pageSize) - 1) / int64(pageSize)),
		Total:       total,
		HasMore:     int64(skip+len(msgs)) < total,
	}, nil
}

// normalizePage applies the default page and size and caps the size.
func normalizePage(page, pageSize, maxSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if maxSize > 0 && pageSize > maxSize {
		pageSize = maxSize
	}
	return page, pageSize
}
