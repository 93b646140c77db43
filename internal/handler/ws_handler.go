package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/weiawesome/wes-io-messenger/internal/delivery"
	"github.com/weiawesome/wes-io-messenger/internal/domain"
	"github.com/weiawesome/wes-io-messenger/internal/hub"
	"github.com/weiawesome/wes-io-messenger/pkg/log"
)

// WSHandler upgrades connections and routes their frames to the engine.
type WSHandler struct {
	hub        *hub.Hub
	engine     *delivery.Engine
	dispatcher *hub.Dispatcher
	upgrader   websocket.Upgrader
}

func NewWSHandler(h *hub.Hub, engine *delivery.Engine) *WSHandler {
	cfg := h.Config()
	ws := &WSHandler{
		hub:    h,
		engine: engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	d := hub.NewDispatcher(func(c *hub.Client) bool {
		_, ok := engine.UserOf(c)
		return ok
	})
	d.HandlePublic(domain.TypeIdentify, ws.handleIdentify)
	d.HandlePublic(domain.TypePing, ws.handlePing)
	d.Handle(domain.TypeSendMessage, ws.handleSendMessage)
	d.Handle(domain.TypeMarkRead, ws.handleMarkRead)
	d.Handle(domain.TypeJoinConversation, ws.handleJoinConversation)
	ws.dispatcher = d

	return ws
}

func (h *WSHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/chat/ws", h.HandleWebSocket)
}

func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l := log.Ctx(c.Request.Context())
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(uuid.New().String(), h.hub, conn, h.hub.Config())
	h.hub.Register(client)

	// The request context ends with this handler; the connection outlives it.
	ctx := log.WithSession(context.WithoutCancel(c.Request.Context()), client.ID(), "")

	go client.WritePump()
	go client.ReadPump(ctx, h.dispatcher.Dispatch, func(ctx context.Context, c *hub.Client) {
		h.engine.Disconnect(ctx, c)
	})
}

// sessionContext tags the logger with the identified user.
func (h *WSHandler) sessionContext(ctx context.Context, c *hub.Client) (context.Context, string) {
	userID, _ := h.engine.UserOf(c)
	return log.WithSession(ctx, c.ID(), userID), userID
}

func (h *WSHandler) handleIdentify(ctx context.Context, c *hub.Client, payload json.RawMessage) {
	var msg domain.IdentifyMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		c.Send(domain.NewErrorMessage(domain.CodeMalformedFrame, "invalid identify message"))
		return
	}
	_ = h.engine.Identify(ctx, c, msg.UserID, msg.DeviceType)
}

func (h *WSHandler) handlePing(_ context.Context, c *hub.Client, _ json.RawMessage) {
	c.Send(&domain.PongMessage{Type: domain.TypePong})
}

func (h *WSHandler) handleSendMessage(ctx context.Context, c *hub.Client, payload json.RawMessage) {
	ctx, userID := h.sessionContext(ctx, c)

	var req domain.SendMessageRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		c.Send(&domain.MessageSendErrorMessage{
			Type:   domain.TypeMessageSendError,
			Code:   domain.CodeMalformedFrame,
			Reason: "invalid send_message",
		})
		return
	}
	if req.SenderID == "" {
		req.SenderID = userID
	}
	if req.SenderID != userID {
		c.Send(&domain.MessageSendErrorMessage{
			Type:        domain.TypeMessageSendError,
			Code:        domain.CodeIdentityMismatch,
			Reason:      "sender_id does not match the identified user",
			ClientMsgID: req.ClientMsgID,
		})
		return
	}

	_, _ = h.engine.Send(ctx, c, req)
}

func (h *WSHandler) handleMarkRead(ctx context.Context, c *hub.Client, payload json.RawMessage) {
	ctx, userID := h.sessionContext(ctx, c)

	var req domain.MarkReadRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		c.Send(domain.NewErrorMessage(domain.CodeMalformedFrame, "invalid mark_read"))
		return
	}
	if req.UserID == "" {
		req.UserID = userID
	}
	if req.UserID != userID {
		c.Send(domain.NewErrorMessage(domain.CodeIdentityMismatch, "user_id does not match the identified user"))
		return
	}

	if _, err := h.engine.MarkRead(ctx, c, req.UserID, req.ConversationID); err != nil {
		c.Send(domain.NewErrorMessage(domain.ErrorCode(err), err.Error()))
	}
}

func (h *WSHandler) handleJoinConversation(ctx context.Context, c *hub.Client, payload json.RawMessage) {
	ctx, userID := h.sessionContext(ctx, c)

	var req domain.JoinConversationRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		c.Send(&domain.JoinErrorMessage{Type: domain.TypeJoinError, Reason: "invalid join_conversation"})
		return
	}

	_, _ = h.engine.Join(ctx, c, userID, req)
}
