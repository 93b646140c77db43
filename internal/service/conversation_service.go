package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/weiawesome/wes-io-messenger/internal/cache"
	"github.com/weiawesome/wes-io-messenger/internal/domain"
	"github.com/weiawesome/wes-io-messenger/internal/repository"
	"github.com/weiawesome/wes-io-messenger/pkg/log"
	"github.com/weiawesome/wes-io-messenger/pkg/pubsub"
)

const defaultUnreadConcurrency = 8

// conversationServiceImpl implements ConversationService.
type conversationServiceImpl struct {
	conversations     repository.ConversationRepository
	messages          repository.MessageRepository
	users             repository.UserRepository
	cache             cache.PageCache
	attachments       AttachmentService
	publisher         pubsub.Publisher
	unreadConcurrency int
}

// ConversationOption customises a conversation service.
type ConversationOption func(*conversationServiceImpl)

// WithUnreadConcurrency bounds how many unread counts a listing computes at once.
func WithUnreadConcurrency(n int) ConversationOption {
	return func(s *conversationServiceImpl) {
		if n > 0 {
			s.unreadConcurrency = n
		}
	}
}

// WithAttachments purges stored attachments when a conversation is deleted.
func WithAttachments(a AttachmentService) ConversationOption {
	return func(s *conversationServiceImpl) { s.attachments = a }
}

// WithConversationPublisher publishes conversation events.
func WithConversationPublisher(p pubsub.Publisher) ConversationOption {
	return func(s *conversationServiceImpl) { s.publisher = p }
}

// WithConversationCache invalidates cached history pages on delete.
func WithConversationCache(c cache.PageCache) ConversationOption {
	return func(s *conversationServiceImpl) { s.cache = c }
}

// NewConversationService creates a conversation service over store.
func NewConversationService(store *repository.Store, opts ...ConversationOption) ConversationService {
	s := &conversationServiceImpl{
		conversations:     store.Conversations,
		messages:          store.Messages,
		users:             store.Users,
		cache:             cache.NopCache{},
		unreadConcurrency: defaultUnreadConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *conversationServiceImpl) Create(ctx context.Context, participantIDs []string) (*domain.Conversation, bool, error) {
	participants, err := domain.NormalizeParticipants(participantIDs)
	if err != nil {
		return nil, false, err
	}

	existing, err := s.conversations.FindByParticipants(ctx, participants)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}

	conv := &domain.Conversation{
		ID:           uuid.New().String(),
		Participants: participants,
		LastRead:     map[string]domain.MessageID{},
	}
	if err := s.conversations.Create(ctx, conv); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			// Lost a race with a concurrent create of the same set.
			existing, ferr := s.conversations.FindByParticipants(ctx, participants)
			if ferr != nil {
				return nil, false, ferr
			}
			return existing, false, nil
		}
		return nil, false, err
	}

	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldConversationID, conv.ID).
		Strs("participants", conv.Participants).
		Msg("conversation created")
	publish(ctx, s.publisher, pubsub.EventConversationCreated, conv.ID, conv)

	return conv, true, nil
}

func (s *conversationServiceImpl) FindByID(ctx context.Context, id string) (*domain.Conversation, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: conversation_id is required", domain.ErrValidation)
	}
	return s.conversations.FindByID(ctx, id)
}

func (s *conversationServiceImpl) MarkRead(ctx context.Context, userID, conversationID string) (domain.MessageID, error) {
	conv, err := s.participantConversation(ctx, userID, conversationID)
	if err != nil {
		return 0, err
	}

	latest, err := s.messages.Latest(ctx, conversationID)
	if errors.Is(err, domain.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return s.advance(ctx, conv, userID, latest.ID)
}

func (s *conversationServiceImpl) MarkReadAt(ctx context.Context, userID, conversationID string, id domain.MessageID) (domain.MessageID, error) {
	if id <= 0 {
		return 0, fmt.Errorf("%w: message_id is required", domain.ErrValidation)
	}
	conv, err := s.participantConversation(ctx, userID, conversationID)
	if err != nil {
		return 0, err
	}
	return s.advance(ctx, conv, userID, id)
}

func (s *conversationServiceImpl) participantConversation(ctx context.Context, userID, conversationID string) (*domain.Conversation, error) {
	if userID == "" || conversationID == "" {
		return nil, fmt.Errorf("%w: user_id and conversation_id are required", domain.ErrValidation)
	}

	conv, err := s.conversations.FindByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, fmt.Errorf("%w: %s is not a participant", domain.ErrNotFound, userID)
	}
	return conv, nil
}

// advance moves userID's watermark to id unless it is already there or past it,
// and returns the resulting watermark.
func (s *conversationServiceImpl) advance(ctx context.Context, conv *domain.Conversation, userID string, id domain.MessageID) (domain.MessageID, error) {
	if current := conv.Watermark(userID); id <= current {
		return current, nil
	}
	if err := s.conversations.SetLastRead(ctx, conv.ID, userID, id); err != nil {
		return 0, err
	}

	publish(ctx, s.publisher, pubsub.EventConversationRead, conv.ID, map[string]any{
		"user_id":    userID,
		"message_id": id,
	})
	return id, nil
}

func (s *conversationServiceImpl) Delete(ctx context.Context, id string) (*domain.Conversation, error) {
	conv, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	l := log.Ctx(ctx)
	// Cached pages must not outlive the conversation.
	if err := s.cache.Bump(ctx, id); err != nil {
		l.Error().Err(err).Str(log.FieldConversationID, id).Msg("failed to invalidate page cache")
		return nil, fmt.Errorf("%w: invalidate history cache: %v", domain.ErrPersistence, err)
	}

	removed, err := s.conversations.Delete(ctx, id)
	if err != nil {
		return nil, err
	}

	// Pages read between the first bump and the delete.
	if err := s.cache.Bump(ctx, id); err != nil {
		l.Warn().Err(err).Str(log.FieldConversationID, id).Msg("failed to invalidate page cache after delete")
	}
	if s.attachments != nil {
		if err := s.attachments.Purge(ctx, id); err != nil {
			l.Warn().Err(err).Str(log.FieldConversationID, id).Msg("failed to purge attachments")
		}
	}

	l.Info().Str(log.FieldConversationID, id).Int64("messages", removed).Msg("conversation deleted")
	publish(ctx, s.publisher, pubsub.EventConversationDeleted, id, map[string]any{
		"participants":     conv.Participants,
		"deleted_messages": removed,
	})
	return conv, nil
}

func (s *conversationServiceImpl) List(ctx context.Context, userID, search string) ([]domain.ConversationSummary, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user_id is required", domain.ErrValidation)
	}

	convs, err := s.conversations.ListByParticipant(ctx, userID)
	if err != nil {
		return nil, err
	}

	profiles, err := s.users.FindByIDs(ctx, participantUnion(convs))
	if err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Msg("failed to load participant profiles")
		profiles = map[string]domain.User{}
	}

	term := strings.ToLower(strings.TrimSpace(search))
	summaries := make([]domain.ConversationSummary, 0, len(convs))
	for i := range convs {
		c := &convs[i]
		users := resolveUsers(c.Participants, profiles)
		if term != "" && !otherNameMatches(users, userID, term) {
			continue
		}
		summaries = append(summaries, domain.ConversationSummary{
			ID:           c.ID,
			Participants: users,
			CreatedAt:    c.CreatedAt,
			UpdatedAt:    c.UpdatedAt,
		})
	}

	s.fillUnread(ctx, userID, convs, summaries)
	SortSummaries(summaries)
	return summaries, nil
}

// fillUnread computes unread counts and last-message previews with bounded
// parallelism. A failed count degrades to zero.
func (s *conversationServiceImpl) fillUnread(ctx context.Context, userID string, convs []domain.Conversation, summaries []domain.ConversationSummary) {
	watermarks := make(map[string]domain.MessageID, len(convs))
	for i := range convs {
		watermarks[convs[i].ID] = convs[i].Watermark(userID)
	}

	l := log.Ctx(ctx)
	var g errgroup.Group
	g.SetLimit(s.unreadConcurrency)
	for i := range summaries {
		sum := &summaries[i]
		g.Go(func() error {
			n, err := s.messages.CountUnread(ctx, sum.ID, userID, watermarks[sum.ID])
			if err != nil {
				l.Warn().Err(err).Str(log.FieldConversationID, sum.ID).Msg("unread count failed, reporting zero")
				n = 0
			}
			sum.UnreadCount = n

			last, err := s.messages.Latest(ctx, sum.ID)
			if err == nil {
				sum.LastMessage = last
			} else if !errors.Is(err, domain.ErrNotFound) {
				l.Warn().Err(err).Str(log.FieldConversationID, sum.ID).Msg("failed to load last message")
			}
			return nil
		})
	}
	_ = g.Wait()
}

// SortSummaries orders conversations with unread messages first, then by
// most recent update, then by id so equal keys sort deterministically.
func SortSummaries(list []domain.ConversationSummary) {
	sort.SliceStable(list, func(i, j int) bool {
		ui, uj := list[i].UnreadCount > 0, list[j].UnreadCount > 0
		if ui != uj {
			return ui
		}
		if !list[i].UpdatedAt.Equal(list[j].UpdatedAt) {
			return list[i].UpdatedAt.After(list[j].UpdatedAt)
		}
		return list[i].ID < list[j].ID
	})
}

// Paginate slices an already sorted listing.
func Paginate(list []domain.ConversationSummary, page, pageSize int) domain.ConversationList {
	page, pageSize = normalizePage(page, pageSize, MaxPageSize)

	start := (page - 1) * pageSize
	if start > len(list) {
		start = len(list)
	}
	end := start + pageSize
	if end > len(list) {
		end = len(list)
	}

	return domain.ConversationList{
		Conversations: list[start:end],
		Page:          page,
		PageSize:      pageSize,
		Total:         len(list),
		TotalPages:    (len(list) + pageSize - 1) / pageSize,
	}
}

func participantUnion(convs []domain.Conversation) []string {
	seen := make(map[string]struct{})
	var ids []string
	for i := range convs {
		for _, p := range convs[i].Participants {
			if _, ok := seen[p]; !ok {
				seen[p] = struct{}{}
				ids = append(ids, p)
			}
		}
	}
	return ids
}

// resolveUsers maps ids to profiles. A user without a profile is shown by id.
func resolveUsers(ids []string, profiles map[string]domain.User) []domain.User {
	out := make([]domain.User, 0, len(ids))
	for _, id := range ids {
		u, ok := profiles[id]
		if !ok {
			u = domain.User{ID: id, DisplayName: id}
		}
		out = append(out, u)
	}
	return out
}

func otherNameMatches(users []domain.User, self, term string) bool {
	for _, u := range users {
		if u.ID != self && strings.Contains(strings.ToLower(u.DisplayName), term) {
			return true
		}
	}
	return false
}
