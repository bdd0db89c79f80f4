package ws

import (
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"messenger-service/internal/models"
	"messenger-service/internal/presence"
)

const writeWait = 10 * time.Second

// Peer wraps a websocket connection behind the presence.Conn contract.
// Pushes come from many goroutines (presence broadcasts, typing, router),
// so every write goes through the mutex.
type Peer struct {
	id   string
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
}

func newPeer(conn *websocket.Conn) *Peer {
	return &Peer{id: uuid.NewString(), conn: conn}
}

// ID returns the opaque connection id.
func (p *Peer) ID() string {
	return p.id
}

// SendEvent marshals the event envelope and writes it to the connection.
func (p *Peer) SendEvent(event string, data any) error {
	payload, err := json.Marshal(models.ServerEvent{Type: event, Data: data})
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return net.ErrClosed
	}
	p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return p.conn.WriteMessage(websocket.TextMessage, payload)
}

// Ping sends a control ping used by the heartbeat loop.
func (p *Peer) Ping() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return net.ErrClosed
	}
	return p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Close tears the transport down. Safe to call more than once.
func (p *Peer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	return p.conn.Close()
}

var _ presence.Conn = (*Peer)(nil)
