// Package ws owns the websocket session lifecycle: handshake authentication,
// identity registration, heartbeat, event dispatch and teardown. Every
// transition is delegated to the presence registry, the typing coordinator
// and the message router.
package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"messenger-service/internal/auth"
	"messenger-service/internal/models"
	"messenger-service/internal/observability"
	"messenger-service/internal/presence"
	"messenger-service/internal/router"
	"messenger-service/internal/typing"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Config tunes the session lifecycle.
type Config struct {
	// AllowUnauthenticated keeps connections without a valid bearer token
	// open in a limited state instead of rejecting the handshake. A limited
	// connection receives no routed events until it binds an identity.
	AllowUnauthenticated bool
	PingInterval         time.Duration
	PongWait             time.Duration
}

// SocketHandler upgrades websocket connections and runs their sessions.
type SocketHandler struct {
	registry  *presence.Registry
	publisher *presence.Publisher
	typing    *typing.Coordinator
	router    *router.Router
	verifier  auth.Verifier
	cfg       Config

	handlers map[string]func(context.Context, *session, json.RawMessage)
}

// ConnInfo captures handshake metadata carried through the connection's
// lifetime for logging and event publishing.
type ConnInfo struct {
	ConnID      string
	UserID      int
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

// session is the per-connection state machine. userID stays zero while the
// connection is unauthenticated; registered flips once the identity is bound
// in the presence registry. Both fields are only touched from the read loop.
type session struct {
	peer       *Peer
	info       ConnInfo
	userID     int
	registered bool
	done       chan struct{}
}

// NewSocketHandler constructs the handler and its event dispatch table.
func NewSocketHandler(registry *presence.Registry, publisher *presence.Publisher, coordinator *typing.Coordinator, messageRouter *router.Router, verifier auth.Verifier, cfg Config) *SocketHandler {
	h := &SocketHandler{
		registry:  registry,
		publisher: publisher,
		typing:    coordinator,
		router:    messageRouter,
		verifier:  verifier,
		cfg:       cfg,
	}
	h.handlers = map[string]func(context.Context, *session, json.RawMessage){
		models.EventRegisterUser:     h.handleRegister,
		models.EventTypingStarted:    h.handleTypingStarted,
		models.EventTypingStopped:    h.handleTypingStopped,
		models.EventMessageDelivered: h.handleDelivered,
		models.EventMessageRead:      h.handleRead,
	}
	return h
}

// Handle upgrades the connection and starts the session.
func (h *SocketHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("messenger-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := bearerToken(c)
	userID := 0
	if token == "" {
		if !h.cfg.AllowUnauthenticated {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		log.Printf("ws handshake without token, allowing limited connection")
	} else {
		id, err := h.verifier.Verify(ctx, token)
		if err != nil {
			if !h.cfg.AllowUnauthenticated {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
				return
			}
			log.Printf("ws handshake with invalid token, allowing limited connection: %v", err)
		} else {
			userID = id
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	peer := newPeer(conn)
	sess := &session{
		peer: peer,
		info: ConnInfo{
			ConnID:      peer.ID(),
			UserID:      userID,
			DeviceID:    observability.DeviceIDFromRequest(c.Request),
			IP:          observability.IPFromRequest(c.Request),
			RequestID:   observability.RequestIDFromRequest(c.Request),
			TraceID:     span.SpanContext().TraceID().String(),
			ConnectedAt: time.Now(),
		},
		userID: userID,
		done:   make(chan struct{}),
	}

	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	h.publishSessionEvent(ctx, sess.info, "ws_connect", "")

	// The request context is canceled the moment this handler returns, but
	// the session outlives it. Keep the trace and request values, drop the
	// cancellation, so repository and broker calls made for later client
	// events still run.
	sessCtx := context.WithoutCancel(ctx)

	go h.heartbeat(sess)
	go h.readLoop(sessCtx, sess)
}

// readLoop consumes inbound events until the transport fails or closes, then
// runs the disconnect transition exactly once.
func (h *SocketHandler) readLoop(ctx context.Context, sess *session) {
	var closeReason string
	defer h.teardown(ctx, sess, &closeReason)

	conn := sess.peer.conn
	conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("ws_error")
			}
			return
		}

		var event models.ClientEvent
		if err := json.Unmarshal(data, &event); err != nil {
			h.violation(sess, "malformed event: "+err.Error())
			continue
		}
		handler, ok := h.handlers[event.Type]
		if !ok {
			h.violation(sess, "unknown event type "+event.Type)
			continue
		}
		handler(ctx, sess, event.Data)
	}
}

// heartbeat pings the peer on an interval; the read deadline plus pong
// handler in the read loop detects the dead ones.
func (h *SocketHandler) heartbeat(sess *session) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-sess.done:
			return
		case <-ticker.C:
			if err := sess.peer.Ping(); err != nil {
				return
			}
		}
	}
}

// teardown runs the DISCONNECTED transition: unregister, and only when this
// connection was still the active one, broadcast offline and sweep the
// user's typing states.
func (h *SocketHandler) teardown(ctx context.Context, sess *session, closeReason *string) {
	close(sess.done)

	if sess.registered {
		if h.registry.Unregister(sess.userID, sess.peer) {
			h.publisher.BroadcastOffline(sess.userID)
			h.typing.SweepUser(sess.userID)
			log.Printf("user %d offline (conn %s)", sess.userID, sess.peer.ID())
		}
	}

	observability.DecWSActive()
	observability.IncWSEvent("ws_disconnect")
	h.publishSessionEvent(ctx, sess.info, "ws_disconnect", *closeReason)
	sess.peer.Close()
}

func (h *SocketHandler) handleRegister(ctx context.Context, sess *session, raw json.RawMessage) {
	var payload models.RegisterPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.UserID == 0 {
		h.violation(sess, "invalid register payload")
		return
	}

	switch {
	case sess.userID == 0:
		// Credential never arrived or failed verification; the client's own
		// announcement binds the identity.
		sess.userID = payload.UserID
		log.Printf("identity %d bound without token (conn %s)", payload.UserID, sess.peer.ID())
	case sess.userID != payload.UserID:
		h.violation(sess, "register identity mismatch")
		return
	}

	superseded, wasOnline := h.registry.Register(sess.userID, sess.peer)
	sess.registered = true
	if superseded != nil {
		// The old connection is replaced, not left half-alive. Closing it
		// here makes its own teardown a stale no-op.
		superseded.Close()
		log.Printf("user %d superseded conn %s", sess.userID, superseded.ID())
	}
	if !wasOnline {
		h.publisher.BroadcastOnline(sess.userID)
		log.Printf("user %d online (conn %s)", sess.userID, sess.peer.ID())
	}
}

func (h *SocketHandler) handleTypingStarted(_ context.Context, sess *session, raw json.RawMessage) {
	var payload models.TypingPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		h.violation(sess, "invalid typing payload")
		return
	}
	if !h.senderAllowed(sess, payload.SenderID) {
		h.violation(sess, "typing start sender mismatch")
		return
	}
	h.typing.Start(payload.SenderID, payload.ReceiverID)
}

func (h *SocketHandler) handleTypingStopped(_ context.Context, sess *session, raw json.RawMessage) {
	var payload models.TypingPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		h.violation(sess, "invalid typing payload")
		return
	}
	if !h.senderAllowed(sess, payload.SenderID) {
		h.violation(sess, "typing stop sender mismatch")
		return
	}
	h.typing.Stop(payload.SenderID, payload.ReceiverID)
}

func (h *SocketHandler) handleDelivered(ctx context.Context, sess *session, raw json.RawMessage) {
	var payload models.DeliveredPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.MessageID == 0 {
		h.violation(sess, "invalid delivered payload")
		return
	}
	if err := h.router.HandleDelivered(ctx, payload.MessageID, payload.SenderID); err != nil {
		log.Printf("delivered receipt for message %d failed: %v", payload.MessageID, err)
	}
}

func (h *SocketHandler) handleRead(ctx context.Context, sess *session, raw json.RawMessage) {
	var payload models.ReadPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.MessageID == 0 {
		h.violation(sess, "invalid read payload")
		return
	}
	if !h.senderAllowed(sess, payload.ReaderID) {
		h.violation(sess, "read receipt reader mismatch")
		return
	}
	if err := h.router.HandleRead(ctx, payload.MessageID, payload.ReaderID, payload.SenderID); err != nil {
		log.Printf("read receipt for message %d failed: %v", payload.MessageID, err)
	}
}

// senderAllowed enforces the identity policy on client events: a bound
// session may only speak for itself; an unbound one may act only under the
// permissive policy.
func (h *SocketHandler) senderAllowed(sess *session, senderID int) bool {
	if sess.userID != 0 {
		return sess.userID == senderID
	}
	return h.cfg.AllowUnauthenticated
}

// violation drops a client event that breaks the protocol. Logged, counted,
// never fatal to the connection.
func (h *SocketHandler) violation(sess *session, reason string) {
	log.Printf("protocol violation on conn %s: %s", sess.peer.ID(), reason)
	observability.IncProtocolViolation()
}

func (h *SocketHandler) publishSessionEvent(ctx context.Context, info ConnInfo, event, reason string) {
	payload := map[string]any{
		"ws": map[string]any{
			"event":       event,
			"conn_id":     info.ConnID,
			"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]any{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}
	_ = observability.PublishEvent(ctx, "ws_events.sessions", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload:   payload,
	}, observability.BuildHeaders(info.RequestID, info.TraceID))
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
		return ""
	}
	return c.Query("token")
}
