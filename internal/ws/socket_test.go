package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messenger-service/internal/auth"
	"messenger-service/internal/mocks"
	"messenger-service/internal/models"
	"messenger-service/internal/presence"
	"messenger-service/internal/router"
	"messenger-service/internal/typing"
)

type testEnv struct {
	srv      *httptest.Server
	registry *presence.Registry
	tokens   *auth.Manager
	repo     *mocks.MessageRepositoryMock
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry := presence.NewRegistry()
	publisher := presence.NewPublisher(registry)
	coordinator := typing.NewCoordinator(registry, 5*time.Second, time.Minute)
	repo := new(mocks.MessageRepositoryMock)
	messageRouter := router.NewRouter(registry, repo)
	tokens := auth.NewManager("test-secret", time.Hour)

	handler := NewSocketHandler(registry, publisher, coordinator, messageRouter, tokens, cfg)

	engine := gin.New()
	engine.GET("/ws", handler.Handle)
	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, registry: registry, tokens: tokens, repo: repo}
}

func permissiveConfig() Config {
	return Config{AllowUnauthenticated: true, PingInterval: time.Minute, PongWait: time.Minute}
}

func (e *testEnv) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws"
	if token != "" {
		url += "?token=" + token
	}
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, eventType string, data any) {
	t.Helper()
	payload, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(models.ClientEvent{Type: eventType, Data: payload}))
}

func register(t *testing.T, env *testEnv, conn *websocket.Conn, userID int) {
	t.Helper()
	sendEvent(t, conn, models.EventRegisterUser, models.RegisterPayload{UserID: userID})
	require.Eventually(t, func() bool { return env.registry.IsOnline(userID) },
		2*time.Second, 10*time.Millisecond)
}

// waitForEvent reads frames until the wanted event type arrives.
func waitForEvent(t *testing.T, conn *websocket.Conn, eventType string) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var evt models.ClientEvent
		require.NoError(t, conn.ReadJSON(&evt), "waiting for %s", eventType)
		if evt.Type != eventType {
			continue
		}
		var data map[string]any
		if len(evt.Data) > 0 {
			require.NoError(t, json.Unmarshal(evt.Data, &data))
		}
		return data
	}
}

func TestRegisterBroadcastsOnline(t *testing.T) {
	env := newTestEnv(t, permissiveConfig())

	connA := env.dial(t, "")
	register(t, env, connA, 1)

	connB := env.dial(t, "")
	register(t, env, connB, 2)

	data := waitForEvent(t, connA, models.EventUserOnline)
	assert.Equal(t, float64(2), data["user_id"])
}

func TestSupersedingConnectionClosesOldOne(t *testing.T) {
	env := newTestEnv(t, permissiveConfig())

	first := env.dial(t, "")
	register(t, env, first, 1)

	second := env.dial(t, "")
	sendEvent(t, second, models.EventRegisterUser, models.RegisterPayload{UserID: 1})

	// The superseded connection is closed by the server.
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			break
		}
	}

	// The user never went offline: the new connection is the active one.
	assert.True(t, env.registry.IsOnline(1))
}

func TestTypingFlow(t *testing.T) {
	env := newTestEnv(t, permissiveConfig())

	connA := env.dial(t, "")
	register(t, env, connA, 1)
	connB := env.dial(t, "")
	register(t, env, connB, 2)

	sendEvent(t, connA, models.EventTypingStarted, models.TypingPayload{SenderID: 1, ReceiverID: 2})
	data := waitForEvent(t, connB, models.EventUserTyping)
	assert.Equal(t, float64(1), data["user_id"])
	assert.Equal(t, true, data["is_typing"])

	sendEvent(t, connA, models.EventTypingStopped, models.TypingPayload{SenderID: 1, ReceiverID: 2})
	data = waitForEvent(t, connB, models.EventUserTyping)
	assert.Equal(t, false, data["is_typing"])
}

func TestDisconnectBroadcastsOfflineAndStopsTyping(t *testing.T) {
	env := newTestEnv(t, permissiveConfig())

	connA := env.dial(t, "")
	register(t, env, connA, 1)
	connB := env.dial(t, "")
	register(t, env, connB, 2)

	sendEvent(t, connA, models.EventTypingStarted, models.TypingPayload{SenderID: 1, ReceiverID: 2})
	waitForEvent(t, connB, models.EventUserTyping)

	connA.Close()

	data := waitForEvent(t, connB, models.EventUserOffline)
	assert.Equal(t, float64(1), data["user_id"])

	data = waitForEvent(t, connB, models.EventUserTyping)
	assert.Equal(t, float64(1), data["user_id"])
	assert.Equal(t, false, data["is_typing"])

	require.Eventually(t, func() bool { return !env.registry.IsOnline(1) },
		2*time.Second, 10*time.Millisecond)
}

func TestReceiptHandshake(t *testing.T) {
	env := newTestEnv(t, permissiveConfig())
	// The receipt arrives long after the upgrade handler returned; the store
	// must see a context that is still alive, not the canceled request one.
	requireLiveContext := func(args mock.Arguments) {
		ctx := args.Get(0).(context.Context)
		assert.NoError(t, ctx.Err())
	}
	env.repo.On("MarkDelivered", mock.Anything, 7).Run(requireLiveContext).Return(nil).Once()
	env.repo.On("AddReader", mock.Anything, 7, 2).Run(requireLiveContext).Return(true, nil).Once()

	connA := env.dial(t, "")
	register(t, env, connA, 1)
	connB := env.dial(t, "")
	register(t, env, connB, 2)

	sendEvent(t, connB, models.EventMessageDelivered, models.DeliveredPayload{MessageID: 7, SenderID: 1})
	data := waitForEvent(t, connA, models.EventDeliveredReceipt)
	assert.Equal(t, float64(7), data["message_id"])

	sendEvent(t, connB, models.EventMessageRead, models.ReadPayload{MessageID: 7, ReaderID: 2, SenderID: 1})
	data = waitForEvent(t, connA, models.EventReadReceipt)
	assert.Equal(t, float64(7), data["message_id"])
	assert.Equal(t, float64(2), data["reader_id"])

	env.repo.AssertExpectations(t)
}

func TestAuthenticatedIdentityMismatchIsDropped(t *testing.T) {
	env := newTestEnv(t, permissiveConfig())

	token, err := env.tokens.Issue(1)
	require.NoError(t, err)

	conn := env.dial(t, token)
	sendEvent(t, conn, models.EventRegisterUser, models.RegisterPayload{UserID: 2})

	// The bound identity wins: registering as someone else changes nothing.
	sendEvent(t, conn, models.EventRegisterUser, models.RegisterPayload{UserID: 1})
	require.Eventually(t, func() bool { return env.registry.IsOnline(1) },
		2*time.Second, 10*time.Millisecond)
	assert.False(t, env.registry.IsOnline(2))
}

func TestStrictModeRejectsMissingToken(t *testing.T) {
	env := newTestEnv(t, Config{AllowUnauthenticated: false, PingInterval: time.Minute, PongWait: time.Minute})

	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, 401, resp.StatusCode)
		resp.Body.Close()
	}
}

func TestTypingFromMismatchedSenderIsDropped(t *testing.T) {
	env := newTestEnv(t, permissiveConfig())

	token, err := env.tokens.Issue(1)
	require.NoError(t, err)
	connA := env.dial(t, token)
	register(t, env, connA, 1)

	connB := env.dial(t, "")
	register(t, env, connB, 2)

	// Claiming another user's identity in a typing event is a protocol
	// violation; nothing reaches the receiver... which is user 1 here.
	sendEvent(t, connA, models.EventTypingStarted, models.TypingPayload{SenderID: 2, ReceiverID: 1})

	sendEvent(t, connA, models.EventTypingStarted, models.TypingPayload{SenderID: 1, ReceiverID: 2})
	data := waitForEvent(t, connB, models.EventUserTyping)
	assert.Equal(t, float64(1), data["user_id"])
}
