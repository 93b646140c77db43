package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/wes-io-messenger/internal/delivery"
	"github.com/weiawesome/wes-io-messenger/internal/domain"
	"github.com/weiawesome/wes-io-messenger/internal/service"
	"github.com/weiawesome/wes-io-messenger/pkg/log"
	"github.com/weiawesome/wes-io-messenger/pkg/response"
)

// HTTPHandler serves the request/response surface.
type HTTPHandler struct {
	engine        *delivery.Engine
	conversations service.ConversationService
	messages      service.MessageService
	attachments   service.AttachmentService
	maxUpload     int64
}

func NewHTTPHandler(
	engine *delivery.Engine,
	conversations service.ConversationService,
	messages service.MessageService,
	attachments service.AttachmentService,
	maxUpload int64,
) *HTTPHandler {
	return &HTTPHandler{
		engine:        engine,
		conversations: conversations,
		messages:      messages,
		attachments:   attachments,
		maxUpload:     maxUpload,
	}
}

func (h *HTTPHandler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		api.POST("/conversations", h.CreateConversation)
		api.DELETE("/conversations/:conversation_id", h.DeleteConversation)
		api.GET("/conversations/:conversation_id/messages", h.GetMessages)
		api.POST("/conversations/:conversation_id/messages", h.SendMessage)
		api.POST("/conversations/:conversation_id/attachments", h.UploadAttachment)

		api.GET("/users/:user_id/conversations", h.ListConversations)
		api.PUT("/users/:user_id/conversations/:conversation_id/read", h.MarkRead)
		api.GET("/users/:user_id/presence", h.GetPresence)
		api.POST("/users/:user_id/logout", h.Logout)
	}

	r.GET("/health", h.HealthCheck)
}

type createConversationRequest struct {
	ParticipantIDs []string `json:"participant_ids" binding:"required"`
}

type sendMessageRequest struct {
	SenderID     string             `json:"sender_id" binding:"required"`
	Body         string             `json:"body"`
	MessageType  domain.MessageType `json:"message_type"`
	Attachments  []string           `json:"attachments"`
	SuggestionID string             `json:"suggestion_id"`
	ClientMsgID  string             `json:"client_msg_id"`
}

// writeError maps the domain error taxonomy onto HTTP responses.
func writeError(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		response.BadRequest(c, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		response.NotFound(c, err.Error())
	default:
		l := log.Ctx(c.Request.Context())
		l.Error().Err(err).Msg(msg)
		response.InternalError(c, msg)
	}
}

// intQuery parses an optional positive integer query parameter.
func intQuery(c *gin.Context, key string) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		response.BadRequest(c, key+" must be a positive integer")
		return 0, false
	}
	return n, true
}

// CreateConversation returns 201 for a new conversation and 200 when the
// participant set already had one.
func (h *HTTPHandler) CreateConversation(c *gin.Context) {
	ctx := c.Request.Context()
	var req createConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	conv, created, err := h.engine.CreateConversation(ctx, req.ParticipantIDs)
	if err != nil {
		writeError(c, err, "failed to create conversation")
		return
	}
	if created {
		response.Created(c, conv)
		return
	}
	response.Success(c, conv)
}

func (h *HTTPHandler) ListConversations(c *gin.Context) {
	ctx := c.Request.Context()
	userID := c.Param("user_id")

	page, ok := intQuery(c, "page")
	if !ok {
		return
	}
	pageSize, ok := intQuery(c, "page_size")
	if !ok {
		return
	}

	list, err := h.conversations.List(ctx, userID, c.Query("search"))
	if err != nil {
		writeError(c, err, "failed to list conversations")
		return
	}

	response.Success(c, service.Paginate(list, page, pageSize))
}

func (h *HTTPHandler) MarkRead(c *gin.Context) {
	ctx := c.Request.Context()
	userID := c.Param("user_id")
	conversationID := c.Param("conversation_id")

	id, err := h.engine.MarkRead(ctx, nil, userID, conversationID)
	if err != nil {
		writeError(c, err, "failed to mark conversation read")
		return
	}

	response.Success(c, domain.MessageReadMessage{
		Type:           domain.TypeMessageRead,
		ConversationID: conversationID,
		UserID:         userID,
		MessageID:      id,
	})
}

func (h *HTTPHandler) DeleteConversation(c *gin.Context) {
	ctx := c.Request.Context()
	conversationID := c.Param("conversation_id")

	if err := h.engine.DeleteConversation(ctx, conversationID); err != nil {
		writeError(c, err, "failed to delete conversation")
		return
	}

	response.Success(c, gin.H{"conversation_id": conversationID, "deleted": true})
}

// GetMessages returns one history page. Fetching page 1 with user_id marks
// the conversation read for that user.
func (h *HTTPHandler) GetMessages(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)
	conversationID := c.Param("conversation_id")

	page, ok := intQuery(c, "page")
	if !ok {
		return
	}
	pageSize, ok := intQuery(c, "page_size")
	if !ok {
		return
	}

	result, err := h.messages.Page(ctx, conversationID, page, pageSize)
	if err != nil {
		writeError(c, err, "failed to get messages")
		return
	}

	if userID := c.Query("user_id"); userID != "" && result.CurrentPage == 1 {
		if _, err := h.engine.MarkRead(ctx, nil, userID, conversationID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			l.Warn().Err(err).Str(log.FieldUserID, userID).Msg("failed to mark read on history fetch")
		}
	}

	response.Success(c, result)
}

func (h *HTTPHandler) SendMessage(c *gin.Context) {
	ctx := c.Request.Context()
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	msg, err := h.engine.Send(ctx, nil, domain.SendMessageRequest{
		Type:           domain.TypeSendMessage,
		ConversationID: c.Param("conversation_id"),
		SenderID:       req.SenderID,
		Body:           req.Body,
		MessageType:    req.MessageType,
		Attachments:    req.Attachments,
		SuggestionID:   req.SuggestionID,
		ClientMsgID:    req.ClientMsgID,
	})
	if err != nil {
		writeError(c, err, "failed to send message")
		return
	}

	response.Created(c, msg)
}

func (h *HTTPHandler) UploadAttachment(c *gin.Context) {
	ctx := c.Request.Context()
	conversationID := c.Param("conversation_id")

	if h.maxUpload > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload+(1<<20))
	}
	fh, err := c.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			response.PayloadTooLarge(c, "file too large")
			return
		}
		response.BadRequest(c, "multipart field 'file' is required")
		return
	}
	if h.maxUpload > 0 && fh.Size > h.maxUpload {
		response.PayloadTooLarge(c, "file too large")
		return
	}

	f, err := fh.Open()
	if err != nil {
		response.BadRequest(c, "failed to read upload")
		return
	}
	defer f.Close()

	contentType := fh.Header.Get("Content-Type")
	att, err := h.attachments.Upload(ctx, conversationID, fh.Filename, contentType, fh.Size, f)
	if err != nil {
		writeError(c, err, "failed to store attachment")
		return
	}

	response.Created(c, att)
}

func (h *HTTPHandler) GetPresence(c *gin.Context) {
	response.Success(c, h.engine.Presence(c.Param("user_id")))
}

func (h *HTTPHandler) Logout(c *gin.Context) {
	ctx := c.Request.Context()
	userID := c.Param("user_id")

	closed := h.engine.Logout(ctx, userID)
	response.Success(c, gin.H{"user_id": userID, "closed_sessions": closed})
}

func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}
