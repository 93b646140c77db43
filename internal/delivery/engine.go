package delivery

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/weiawesome/wes-io-messenger/internal/audit"
	"github.com/weiawesome/wes-io-messenger/internal/domain"
	"github.com/weiawesome/wes-io-messenger/internal/presence"
	"github.com/weiawesome/wes-io-messenger/internal/service"
	"github.com/weiawesome/wes-io-messenger/internal/suggestion"
	"github.com/weiawesome/wes-io-messenger/pkg/log"
)

const (
	defaultLockStripes       = 64
	defaultSuggestionTimeout = 3 * time.Second
)

// Engine turns service results into live events for connected sessions.
type Engine struct {
	registry          *presence.Registry
	conversations     service.ConversationService
	messages          service.MessageService
	suggestions       suggestion.Lookup
	suggestionTimeout time.Duration
	senderLocks       []sync.Mutex
}

// Option customises an Engine.
type Option func(*Engine)

// WithSenderLockStripes sets how many mutexes serialise sends per sender.
func WithSenderLockStripes(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.senderLocks = make([]sync.Mutex, n)
		}
	}
}

// WithSuggestionTimeout bounds each suggestion lookup.
func WithSuggestionTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.suggestionTimeout = d
		}
	}
}

// NewEngine wires the engine. A nil lookup disables auto-replies.
func NewEngine(
	registry *presence.Registry,
	conversations service.ConversationService,
	messages service.MessageService,
	suggestions suggestion.Lookup,
	opts ...Option,
) *Engine {
	if suggestions == nil {
		suggestions = suggestion.Disabled{}
	}
	e := &Engine{
		registry:          registry,
		conversations:     conversations,
		messages:          messages,
		suggestions:       suggestions,
		suggestionTimeout: defaultSuggestionTimeout,
		senderLocks:       make([]sync.Mutex, defaultLockStripes),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// senderLock returns the stripe serialising userID's sends so every recipient
// observes them in id order.
func (e *Engine) senderLock(userID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return &e.senderLocks[h.Sum32()%uint32(len(e.senderLocks))]
}

// emit sends v to conn, logging failures.
func emit(ctx context.Context, conn presence.Conn, v any) {
	if err := conn.Send(v); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldSessionID, conn.ID()).Msg("failed to emit event")
	}
}

// emitToUser sends v to every live session of userID except the handle exclude.
func (e *Engine) emitToUser(ctx context.Context, userID, exclude string, v any) int {
	n := 0
	for _, s := range e.registry.SessionsFor(userID) {
		if s.Conn.ID() == exclude {
			continue
		}
		emit(ctx, s.Conn, v)
		n++
	}
	return n
}

// UserOf returns the user conn identified as.
func (e *Engine) UserOf(conn presence.Conn) (string, bool) {
	return e.registry.OwnerOf(conn.ID())
}

// Identify registers conn under userID and confirms it.
func (e *Engine) Identify(ctx context.Context, conn presence.Conn, userID, deviceType string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		err := fmt.Errorf("%w: user_id is required", domain.ErrValidation)
		emit(ctx, conn, domain.NewErrorMessage(domain.CodeInvalidMessage, err.Error()))
		return err
	}

	s := e.registry.Register(userID, conn, domain.NormalizeDevice(deviceType))
	audit.LogWithDetail(ctx, audit.ActionIdentify, userID, conn.ID(), s.DeviceType, "session identified")

	emit(ctx, conn, &domain.IdentifiedMessage{
		Type:      domain.TypeIdentified,
		SessionID: conn.ID(),
		UserID:    userID,
	})
	return nil
}

// Disconnect removes conn from presence. Unknown handles are ignored.
func (e *Engine) Disconnect(ctx context.Context, conn presence.Conn) {
	if userID, ok := e.registry.Unregister(conn.ID()); ok {
		audit.LogTarget(ctx, audit.ActionDisconnect, userID, conn.ID(), "session disconnected")
	}
}

// Send persists a message and delivers it. origin, when set, is the session
// the request came from and receives any send error. The sender always gets
// either an error or a message_sent acknowledgment on its live sessions.
func (e *Engine) Send(ctx context.Context, origin presence.Conn, req domain.SendMessageRequest) (*domain.Message, error) {
	in := req.ToNewMessage()
	if err := in.Validate(); err != nil {
		e.sendFailed(ctx, origin, in.SenderID, err, req.ClientMsgID)
		return nil, err
	}

	lock := e.senderLock(in.SenderID)
	lock.Lock()

	msg, err := e.messages.Append(ctx, in)
	if err != nil {
		lock.Unlock()
		e.sendFailed(ctx, origin, in.SenderID, err, req.ClientMsgID)
		return nil, err
	}

	l := log.Ctx(ctx)
	if _, err := e.conversations.MarkReadAt(ctx, msg.SenderID, msg.ConversationID, msg.ID); err != nil {
		l.Warn().Err(err).Str(log.FieldConversationID, msg.ConversationID).Msg("failed to mark sender read")
	}

	conv, err := e.conversations.FindByID(ctx, msg.ConversationID)
	if err != nil {
		lock.Unlock()
		l.Error().Err(err).
			Str(log.FieldConversationID, msg.ConversationID).
			Str(log.FieldMessageID, msg.ID.String()).
			Msg("conversation vanished after message was persisted")
		err = fmt.Errorf("%w: conversation %s unreadable after append: %v", domain.ErrPersistence, msg.ConversationID, err)
		e.sendFailed(ctx, origin, in.SenderID, err, req.ClientMsgID)
		return msg, err
	}

	if req.SuggestionID == "" {
		e.fanOut(ctx, conv, msg)
	}
	e.acknowledge(ctx, msg, req.ClientMsgID)
	lock.Unlock()

	audit.LogTarget(ctx, audit.ActionSendMessage, msg.SenderID, msg.ConversationID, "message sent")

	if req.SuggestionID != "" {
		e.autoReply(ctx, conv, msg, req.SuggestionID)
	}
	return msg, nil
}

// sendFailed reports a failed send. Validation and not-found errors go back to
// the caller only. Anything else is terminal for the send and reaches every
// live session of the sender, origin included.
func (e *Engine) sendFailed(ctx context.Context, origin presence.Conn, senderID string, err error, clientMsgID string) {
	l := log.Ctx(ctx)
	l.Warn().Err(err).Str(log.FieldUserID, senderID).Str(log.FieldClientMsgID, clientMsgID).Msg("send failed")

	evt := &domain.MessageSendErrorMessage{
		Type:        domain.TypeMessageSendError,
		Code:        domain.ErrorCode(err),
		Reason:      err.Error(),
		ClientMsgID: clientMsgID,
	}
	callerOnly := errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrNotFound)

	exclude := ""
	if origin != nil {
		emit(ctx, origin, evt)
		exclude = origin.ID()
	}
	if !callerOnly && senderID != "" {
		e.emitToUser(ctx, senderID, exclude, evt)
	}
}

// fanOut delivers msg to every live session of every participant except the sender.
func (e *Engine) fanOut(ctx context.Context, conv *domain.Conversation, msg *domain.Message) {
	received := &domain.MessageReceivedMessage{Type: domain.TypeMessageReceived, Message: *msg}
	unread := &domain.UnreadCountChangedMessage{Type: domain.TypeUnreadCountChanged, ConversationID: conv.ID}

	delivered := 0
	for _, userID := range conv.Others(msg.SenderID) {
		for _, s := range e.registry.SessionsFor(userID) {
			emit(ctx, s.Conn, received)
			emit(ctx, s.Conn, unread)
			delivered++
		}
	}

	l := log.Ctx(ctx)
	l.Debug().
		Str(log.FieldConversationID, conv.ID).
		Str(log.FieldMessageID, msg.ID.String()).
		Int("sessions", delivered).
		Msg("message fanned out")
}

func (e *Engine) acknowledge(ctx context.Context, msg *domain.Message, clientMsgID string) {
	e.emitToUser(ctx, msg.SenderID, "", &domain.MessageSentMessage{
		Type:           domain.TypeMessageSent,
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		ClientMsgID:    clientMsgID,
		CreatedAt:      msg.CreatedAt,
	})
}

// autoReply looks up a suggested reply and, when one exists, persists it as a
// message from the first other participant and delivers it to the original
// sender only. Lookup failures are logged and swallowed.
func (e *Engine) autoReply(ctx context.Context, conv *domain.Conversation, original *domain.Message, suggestionID string) {
	l := log.Ctx(ctx)

	lookupCtx, cancel := context.WithTimeout(ctx, e.suggestionTimeout)
	reply, err := e.suggestions.Lookup(lookupCtx, suggestionID)
	cancel()
	if err != nil {
		l.Warn().Err(err).Str("suggestion_id", suggestionID).Msg("suggestion lookup failed, no auto-reply")
		return
	}
	if reply == nil {
		l.Debug().Str("suggestion_id", suggestionID).Msg("no suggestion for id")
		return
	}

	others := conv.Others(original.SenderID)
	if len(others) == 0 {
		return
	}
	responder := others[0]

	lock := e.senderLock(responder)
	lock.Lock()
	defer lock.Unlock()

	synthetic, err := e.messages.Append(ctx, domain.NewMessage{
		ConversationID: conv.ID,
		SenderID:       responder,
		Body:           reply.Reply,
		Type:           domain.MessageTypeText,
	})
	if err != nil {
		l.Warn().Err(err).Str(log.FieldConversationID, conv.ID).Msg("failed to persist auto-reply")
		return
	}

	e.emitToUser(ctx, original.SenderID, "", &domain.MessageReceivedMessage{Type: domain.TypeMessageReceived, Message: *synthetic})
	e.emitToUser(ctx, original.SenderID, "", &domain.UnreadCountChangedMessage{Type: domain.TypeUnreadCountChanged, ConversationID: conv.ID})

	audit.LogWithDetail(ctx, audit.ActionAutoReply, responder, conv.ID, suggestionID, "auto-reply delivered")
}

// MarkRead moves userID's watermark to the newest message and tells every
// other live session in the conversation. origin, when set, is not notified.
// A call that does not move the watermark emits nothing.
func (e *Engine) MarkRead(ctx context.Context, origin presence.Conn, userID, conversationID string) (domain.MessageID, error) {
	conv, err := e.conversations.FindByID(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	before := conv.Watermark(userID)

	id, err := e.conversations.MarkRead(ctx, userID, conversationID)
	if err != nil {
		return 0, err
	}
	if id == 0 || id <= before {
		return id, nil
	}

	exclude := ""
	if origin != nil {
		exclude = origin.ID()
	}
	evt := &domain.MessageReadMessage{
		Type:           domain.TypeMessageRead,
		ConversationID: conversationID,
		UserID:         userID,
		MessageID:      id,
	}
	for _, p := range conv.Participants {
		e.emitToUser(ctx, p, exclude, evt)
	}

	audit.LogWithDetail(ctx, audit.ActionMarkRead, userID, conversationID, id.String(), "conversation marked read")
	return id, nil
}

// CreateConversation creates or finds the conversation of participantIDs. A
// new conversation is announced to every participant's live sessions.
func (e *Engine) CreateConversation(ctx context.Context, participantIDs []string) (*domain.Conversation, bool, error) {
	conv, created, err := e.conversations.Create(ctx, participantIDs)
	if err != nil {
		return nil, false, err
	}
	if created {
		evt := &domain.NewConversationMessage{Type: domain.TypeNewConversation, Conversation: *conv}
		for _, p := range conv.Participants {
			e.emitToUser(ctx, p, "", evt)
		}
		audit.LogWithDetail(ctx, audit.ActionCreateConversation, "", conv.ID, strings.Join(conv.Participants, ","), "conversation created")
	}
	return conv, created, nil
}

// Join resolves a conversation for userID's session conn, either by id or by
// participant set. Failures are reported to conn as join_error.
func (e *Engine) Join(ctx context.Context, conn presence.Conn, userID string, req domain.JoinConversationRequest) (*domain.Conversation, error) {
	conv, err := e.join(ctx, conn, userID, req)
	if err != nil {
		emit(ctx, conn, &domain.JoinErrorMessage{
			Type:           domain.TypeJoinError,
			Reason:         err.Error(),
			ConversationID: req.ConversationID,
		})
		return nil, err
	}
	audit.LogTarget(ctx, audit.ActionJoinConversation, userID, conv.ID, "conversation joined")
	return conv, nil
}

func (e *Engine) join(ctx context.Context, conn presence.Conn, userID string, req domain.JoinConversationRequest) (*domain.Conversation, error) {
	if req.ConversationID != "" {
		conv, err := e.conversations.FindByID(ctx, req.ConversationID)
		if err != nil {
			return nil, err
		}
		if !conv.HasParticipant(userID) {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotParticipant, userID)
		}
		emit(ctx, conn, &domain.NewConversationMessage{Type: domain.TypeNewConversation, Conversation: *conv})
		return conv, nil
	}

	if len(req.ParticipantIDs) == 0 {
		return nil, fmt.Errorf("%w: conversation_id or participant_ids is required", domain.ErrValidation)
	}
	ids := append([]string{userID}, req.ParticipantIDs...)
	conv, created, err := e.CreateConversation(ctx, ids)
	if err != nil {
		return nil, err
	}
	if !created {
		emit(ctx, conn, &domain.NewConversationMessage{Type: domain.TypeNewConversation, Conversation: *conv})
	}
	return conv, nil
}

// DeleteConversation deletes a conversation and tells its participants.
func (e *Engine) DeleteConversation(ctx context.Context, conversationID string) error {
	conv, err := e.conversations.Delete(ctx, conversationID)
	if err != nil {
		return err
	}

	evt := &domain.ConversationDeletedMessage{Type: domain.TypeConversationDeleted, ConversationID: conv.ID}
	for _, p := range conv.Participants {
		e.emitToUser(ctx, p, "", evt)
	}
	audit.LogTarget(ctx, audit.ActionDeleteConversation, "", conv.ID, "conversation deleted")
	return nil
}

// Logout unregisters and closes every live session of userID and returns how
// many were closed.
func (e *Engine) Logout(ctx context.Context, userID string) int {
	sessions := e.registry.SessionsFor(userID)
	for _, s := range sessions {
		e.registry.Unregister(s.Conn.ID())
		s.Conn.Close()
	}
	audit.LogWithDetail(ctx, audit.ActionLogout, userID, userID, fmt.Sprint(len(sessions)), "user logged out")
	return len(sessions)
}

// Presence reports userID's live sessions.
func (e *Engine) Presence(userID string) domain.Presence {
	sessions := e.registry.SessionsFor(userID)
	infos := make([]domain.SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	return domain.Presence{UserID: userID, Online: len(infos) > 0, Sessions: infos}
}
