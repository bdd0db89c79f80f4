// Package typing holds the short-lived per-conversation typing indicators,
// decoupled from message persistence. State lives only in process memory and
// expires on its own when a stop event is lost.
package typing

import (
	"context"
	"log"
	"sync"
	"time"

	"messenger-service/internal/models"
	"messenger-service/internal/observability"
	"messenger-service/internal/presence"
)

// pairKey identifies a conversation by its two participants, order-free.
type pairKey struct {
	a, b int
}

func makePairKey(x, y int) pairKey {
	if x < y {
		return pairKey{a: x, b: y}
	}
	return pairKey{a: y, b: x}
}

func (k pairKey) other(userID int) int {
	if k.a == userID {
		return k.b
	}
	return k.a
}

type typingState struct {
	typerID   int
	startedAt time.Time
}

// Coordinator tracks at most one typing state per conversation pair and
// notifies the receiving side. Entries expire after IdleTimeout without a
// refreshing start event.
type Coordinator struct {
	registry      *presence.Registry
	idleTimeout   time.Duration
	sweepInterval time.Duration
	now           func() time.Time

	mu     sync.Mutex
	states map[pairKey]typingState
}

// NewCoordinator builds a Coordinator over the registry.
func NewCoordinator(registry *presence.Registry, idleTimeout, sweepInterval time.Duration) *Coordinator {
	return &Coordinator{
		registry:      registry,
		idleTimeout:   idleTimeout,
		sweepInterval: sweepInterval,
		now:           time.Now,
		states:        make(map[pairKey]typingState),
	}
}

// Start upserts the typing state for the pair with a fresh timestamp and, if
// the receiver is online, pushes a typing:true event to it.
func (c *Coordinator) Start(senderID, receiverID int) {
	key := makePairKey(senderID, receiverID)

	c.mu.Lock()
	c.states[key] = typingState{typerID: senderID, startedAt: c.now()}
	count := len(c.states)
	c.mu.Unlock()

	observability.SetTypingStates(count)
	c.notify(receiverID, senderID, true)
}

// Stop removes the typing state for the pair if present and pushes a
// typing:false event to the receiver regardless of whether a state existed,
// so a stop is always safe to repeat.
func (c *Coordinator) Stop(senderID, receiverID int) {
	key := makePairKey(senderID, receiverID)

	c.mu.Lock()
	delete(c.states, key)
	count := len(c.states)
	c.mu.Unlock()

	observability.SetTypingStates(count)
	c.notify(receiverID, senderID, false)
}

// SweepUser removes every typing state where the user is the typer and emits
// a stop to each affected peer. The session lifecycle calls this on
// disconnect so peers never wait for the timer sweep.
func (c *Coordinator) SweepUser(userID int) {
	type stopped struct {
		peerID int
	}

	c.mu.Lock()
	var affected []stopped
	for key, st := range c.states {
		if st.typerID != userID {
			continue
		}
		delete(c.states, key)
		affected = append(affected, stopped{peerID: key.other(userID)})
	}
	count := len(c.states)
	c.mu.Unlock()

	observability.SetTypingStates(count)
	for _, s := range affected {
		c.notify(s.peerID, userID, false)
	}
}

// Run drives the periodic expiry sweep until the context is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			c.sweepAt(t)
		}
	}
}

// sweepAt expires every state idle for at least the timeout, emitting one
// synthetic stop per expired entry. Removal happens under the lock, so an
// entry is only ever reported once even when a disconnect sweep races the
// timer.
func (c *Coordinator) sweepAt(now time.Time) {
	type expired struct {
		peerID  int
		typerID int
	}

	c.mu.Lock()
	var gone []expired
	for key, st := range c.states {
		if now.Sub(st.startedAt) < c.idleTimeout {
			continue
		}
		delete(c.states, key)
		gone = append(gone, expired{peerID: key.other(st.typerID), typerID: st.typerID})
	}
	count := len(c.states)
	c.mu.Unlock()

	observability.SetTypingStates(count)
	for _, e := range gone {
		c.notify(e.peerID, e.typerID, false)
	}
}

// ActiveCount returns the number of live typing states.
func (c *Coordinator) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.states)
}

func (c *Coordinator) notify(receiverID, typerID int, isTyping bool) {
	conn, ok := c.registry.Lookup(receiverID)
	if !ok {
		observability.IncPush(models.EventUserTyping, "dropped")
		return
	}
	event := models.TypingEvent{UserID: typerID, IsTyping: isTyping}
	if err := conn.SendEvent(models.EventUserTyping, event); err != nil {
		log.Printf("typing push to user %d failed: %v", receiverID, err)
		observability.IncPush(models.EventUserTyping, "failed")
		return
	}
	observability.IncPush(models.EventUserTyping, "sent")
}
