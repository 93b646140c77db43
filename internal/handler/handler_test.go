package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-messenger/internal/config"
	"github.com/weiawesome/wes-io-messenger/internal/delivery"
	"github.com/weiawesome/wes-io-messenger/internal/domain"
	"github.com/weiawesome/wes-io-messenger/internal/hub"
	"github.com/weiawesome/wes-io-messenger/internal/idgen"
	"github.com/weiawesome/wes-io-messenger/internal/presence"
	"github.com/weiawesome/wes-io-messenger/internal/repository"
	"github.com/weiawesome/wes-io-messenger/internal/service"
	"github.com/weiawesome/wes-io-messenger/pkg/log"
	"github.com/weiawesome/wes-io-messenger/pkg/response"
	"github.com/weiawesome/wes-io-messenger/pkg/storage"
)

type envelope struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
}

type testEnv struct {
	router *gin.Engine
	engine *delivery.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := repository.NewMemoryStore()
	ids, err := idgen.NewSnowflake(1, 0)
	require.NoError(t, err)
	st, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: t.TempDir(), URLPrefix: "/files"})
	require.NoError(t, err)

	attachments := service.NewAttachmentService(store.Conversations, st, 1024, time.Hour)
	convs := service.NewConversationService(store, service.WithAttachments(attachments))
	msgs := service.NewMessageService(store, ids, nil, time.Minute, nil)
	engine := delivery.NewEngine(presence.NewRegistry(), convs, msgs, nil)

	h := hub.NewHub(config.WebSocketConfig{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		MaxMessageSize:  65536,
		SendBuffer:      64,
		PingInterval:    time.Minute,
		PongWait:        2 * time.Minute,
		WriteWait:       5 * time.Second,
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)

	r := gin.New()
	r.Use(log.GinMiddleware(log.NewWithWriter(log.Config{Level: "disabled"}, io.Discard)))
	NewHTTPHandler(engine, convs, msgs, attachments, 1024).RegisterRoutes(r)
	NewWSHandler(h, engine).RegisterRoutes(r)

	return &testEnv{router: r, engine: engine}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (int, envelope) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w.Code, env
}

func (e *testEnv) createConversation(t *testing.T, ids ...string) domain.Conversation {
	t.Helper()
	code, env := e.do(t, http.MethodPost, "/api/v1/conversations", gin.H{"participant_ids": ids})
	require.Contains(t, []int{http.StatusCreated, http.StatusOK}, code)
	var conv domain.Conversation
	require.NoError(t, json.Unmarshal(env.Data, &conv))
	return conv
}

func TestCreateConversation(t *testing.T) {
	e := newTestEnv(t)

	code, env := e.do(t, http.MethodPost, "/api/v1/conversations", gin.H{"participant_ids": []string{"b", "a"}})
	assert.Equal(t, http.StatusCreated, code)
	var first domain.Conversation
	require.NoError(t, json.Unmarshal(env.Data, &first))
	assert.Equal(t, []string{"a", "b"}, first.Participants)

	code, env = e.do(t, http.MethodPost, "/api/v1/conversations", gin.H{"participant_ids": []string{"a", "b"}})
	assert.Equal(t, http.StatusOK, code)
	var second domain.Conversation
	require.NoError(t, json.Unmarshal(env.Data, &second))
	assert.Equal(t, first.ID, second.ID)

	code, env = e.do(t, http.MethodPost, "/api/v1/conversations", gin.H{"participant_ids": []string{"a"}})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, response.CodeInvalidRequest, env.Error.Code)

	code, _ = e.do(t, http.MethodPost, "/api/v1/conversations", gin.H{})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestMessagesAndUnreadFlow(t *testing.T) {
	e := newTestEnv(t)
	conv := e.createConversation(t, "alice", "bob")
	base := "/api/v1/conversations/" + conv.ID + "/messages"

	for _, body := range []string{"one", "two", "three"} {
		code, _ := e.do(t, http.MethodPost, base, gin.H{"sender_id": "alice", "body": body})
		require.Equal(t, http.StatusCreated, code)
	}
	code, env := e.do(t, http.MethodPost, base, gin.H{"sender_id": "alice"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, env.Success)

	listFor := func(user string) domain.ConversationList {
		code, env := e.do(t, http.MethodGet, "/api/v1/users/"+user+"/conversations", nil)
		require.Equal(t, http.StatusOK, code)
		var list domain.ConversationList
		require.NoError(t, json.Unmarshal(env.Data, &list))
		return list
	}

	list := listFor("bob")
	require.Len(t, list.Conversations, 1)
	assert.Equal(t, int64(3), list.Conversations[0].UnreadCount)
	require.NotNil(t, list.Conversations[0].LastMessage)
	assert.Equal(t, "three", list.Conversations[0].LastMessage.Body)

	code, env = e.do(t, http.MethodGet, base+"?page=1&page_size=2&user_id=bob", nil)
	require.Equal(t, http.StatusOK, code)
	var page domain.MessagePage
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Len(t, page.Messages, 2)
	assert.Equal(t, "two", page.Messages[0].Body)
	assert.Equal(t, "three", page.Messages[1].Body)
	assert.True(t, page.HasMore)
	assert.Equal(t, 2, page.TotalPages)

	assert.Zero(t, listFor("bob").Conversations[0].UnreadCount, "page 1 with user_id marks read")

	code, _ = e.do(t, http.MethodGet, base+"?page=zero", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestMarkReadEndpoint(t *testing.T) {
	e := newTestEnv(t)
	conv := e.createConversation(t, "alice", "bob")
	code, _ := e.do(t, http.MethodPost, "/api/v1/conversations/"+conv.ID+"/messages", gin.H{"sender_id": "bob", "body": "hi"})
	require.Equal(t, http.StatusCreated, code)

	code, env := e.do(t, http.MethodPut, "/api/v1/users/alice/conversations/"+conv.ID+"/read", nil)
	require.Equal(t, http.StatusOK, code)
	var read domain.MessageReadMessage
	require.NoError(t, json.Unmarshal(env.Data, &read))
	assert.NotZero(t, read.MessageID)

	code, _ = e.do(t, http.MethodPut, "/api/v1/users/mallory/conversations/"+conv.ID+"/read", nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = e.do(t, http.MethodPut, "/api/v1/users/alice/conversations/missing/read", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestDeleteConversationEndpoint(t *testing.T) {
	e := newTestEnv(t)
	conv := e.createConversation(t, "alice", "bob")
	code, _ := e.do(t, http.MethodPost, "/api/v1/conversations/"+conv.ID+"/messages", gin.H{"sender_id": "bob", "body": "hi"})
	require.Equal(t, http.StatusCreated, code)

	code, _ = e.do(t, http.MethodDelete, "/api/v1/conversations/"+conv.ID, nil)
	assert.Equal(t, http.StatusOK, code)

	code, env := e.do(t, http.MethodDelete, "/api/v1/conversations/"+conv.ID, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, response.CodeNotFound, env.Error.Code)

	code, env = e.do(t, http.MethodGet, "/api/v1/conversations/"+conv.ID+"/messages", nil)
	require.Equal(t, http.StatusOK, code)
	var page domain.MessagePage
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Empty(t, page.Messages)
}

func upload(t *testing.T, e *testEnv, convID, name string, content []byte) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if name != "" {
		fw, err := mw.CreateFormFile("file", name)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations/"+convID+"/attachments", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return w.Code, env
}

func TestUploadAttachment(t *testing.T) {
	e := newTestEnv(t)
	conv := e.createConversation(t, "alice", "bob")

	code, env := upload(t, e, conv.ID, "photo.png", []byte("fake png"))
	require.Equal(t, http.StatusCreated, code)
	var att domain.Attachment
	require.NoError(t, json.Unmarshal(env.Data, &att))
	assert.True(t, strings.HasPrefix(att.Key, "attachments/"+conv.ID+"/"))
	assert.Equal(t, "/files/"+att.Key, att.URL)

	code, _ = upload(t, e, conv.ID, "big.bin", bytes.Repeat([]byte("x"), 2048))
	assert.Equal(t, http.StatusRequestEntityTooLarge, code)

	code, _ = upload(t, e, conv.ID, "", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = upload(t, e, "missing", "a.txt", []byte("a"))
	assert.Equal(t, http.StatusNotFound, code)
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dial(t *testing.T, srv *httptest.Server) *wsClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) send(v any) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(v))
}

func (c *wsClient) read() map[string]any {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var m map[string]any
	require.NoError(c.t, c.conn.ReadJSON(&m))
	return m
}

func TestWebSocketRoundTrip(t *testing.T) {
	e := newTestEnv(t)
	srv := httptest.NewServer(e.router)
	defer srv.Close()

	alice := dial(t, srv)
	bob := dial(t, srv)

	alice.send(gin.H{"type": "send_message", "conversation_id": "x", "body": "hi"})
	assert.Equal(t, domain.CodeNotIdentified, alice.read()["code"])

	alice.send(gin.H{"type": "ping"})
	assert.Equal(t, domain.TypePong, alice.read()["type"])

	alice.send(gin.H{"type": "identify", "user_id": "alice", "device_type": "web"})
	assert.Equal(t, domain.TypeIdentified, alice.read()["type"])
	bob.send(gin.H{"type": "identify", "user_id": "bob", "device_type": "mobile"})
	assert.Equal(t, domain.TypeIdentified, bob.read()["type"])

	alice.send(gin.H{"type": "join_conversation", "participant_ids": []string{"bob"}})
	created := alice.read()
	require.Equal(t, domain.TypeNewConversation, created["type"])
	convID := created["conversation"].(map[string]any)["id"].(string)
	assert.Equal(t, domain.TypeNewConversation, bob.read()["type"])

	alice.send(gin.H{"type": "send_message", "conversation_id": convID, "sender_id": "bob", "body": "spoof"})
	assert.Equal(t, domain.CodeIdentityMismatch, alice.read()["code"])

	alice.send(gin.H{"type": "send_message", "conversation_id": convID, "body": "hello bob", "client_msg_id": "c-1"})
	ack := alice.read()
	assert.Equal(t, domain.TypeMessageSent, ack["type"])
	assert.Equal(t, "c-1", ack["client_msg_id"])

	received := bob.read()
	require.Equal(t, domain.TypeMessageReceived, received["type"])
	assert.Equal(t, "hello bob", received["message"].(map[string]any)["body"])
	assert.Equal(t, ack["message_id"], received["message"].(map[string]any)["id"])
	assert.Equal(t, domain.TypeUnreadCountChanged, bob.read()["type"])

	bob.send(gin.H{"type": "mark_read", "conversation_id": convID})
	read := alice.read()
	assert.Equal(t, domain.TypeMessageRead, read["type"])
	assert.Equal(t, "bob", read["user_id"])

	code, env := e.do(t, http.MethodGet, "/api/v1/users/bob/presence", nil)
	require.Equal(t, http.StatusOK, code)
	var p domain.Presence
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.True(t, p.Online)
	require.Len(t, p.Sessions, 1)
	assert.Equal(t, domain.DeviceMobile, p.Sessions[0].DeviceType)

	code, _ = e.do(t, http.MethodPost, "/api/v1/users/bob/logout", nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, bob.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err := bob.conn.ReadMessage()
	assert.Error(t, err, "logout closes the socket")

	alice.conn.Close()
	assert.Eventually(t, func() bool {
		return !e.engine.Presence("alice").Online
	}, 3*time.Second, 10*time.Millisecond)
}
