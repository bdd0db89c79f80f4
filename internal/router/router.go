// Package router delivers persisted messages to live connections and drives
// the delivery/read receipt handshake back to the sender. It is stateless:
// all shared state lives in the presence registry and the message store.
package router

import (
	"context"
	"fmt"
	"log"

	"messenger-service/internal/models"
	"messenger-service/internal/observability"
	"messenger-service/internal/presence"
	"messenger-service/internal/repositories"
)

// Router routes message and receipt events between live connections.
type Router struct {
	registry *presence.Registry
	messages repositories.MessageRepository
}

// NewRouter constructs a Router.
func NewRouter(registry *presence.Registry, messages repositories.MessageRepository) *Router {
	return &Router{registry: registry, messages: messages}
}

// RouteNewMessage pushes an already persisted message to the receiver's live
// connection, if any, and confirms send completion to the sender's own
// connection. An offline receiver is a normal outcome: the message stays in
// the store and the client reconciles through a later history fetch.
func (r *Router) RouteNewMessage(ctx context.Context, msg models.Message) {
	r.push(msg.ReceiverID, models.EventReceiveMessage, msg)
	r.push(msg.SenderID, models.EventMessageSent, msg)
}

// HandleDelivered marks a delivery receipt and pushes it to the sender.
// Re-confirming an already delivered message succeeds and re-pushes.
func (r *Router) HandleDelivered(ctx context.Context, messageID, senderID int) error {
	if err := r.messages.MarkDelivered(ctx, messageID); err != nil {
		return fmt.Errorf("mark delivered %d: %w", messageID, err)
	}
	r.push(senderID, models.EventDeliveredReceipt, models.DeliveredReceipt{MessageID: messageID})
	return nil
}

// HandleRead adds the reader to the message's read set and, when the reader
// was newly added, pushes a read receipt to the sender. Duplicate reads are
// absorbed by the set union.
func (r *Router) HandleRead(ctx context.Context, messageID, readerID, senderID int) error {
	added, err := r.messages.AddReader(ctx, messageID, readerID)
	if err != nil {
		return fmt.Errorf("add reader %d to message %d: %w", readerID, messageID, err)
	}
	if !added {
		return nil
	}
	r.push(senderID, models.EventReadReceipt, models.ReadReceipt{MessageID: messageID, ReaderID: readerID})
	return nil
}

func (r *Router) push(userID int, event string, data any) {
	conn, ok := r.registry.Lookup(userID)
	if !ok {
		observability.IncPush(event, "dropped")
		return
	}
	if err := conn.SendEvent(event, data); err != nil {
		log.Printf("push %s to user %d failed: %v", event, userID, err)
		observability.IncPush(event, "failed")
		return
	}
	observability.IncPush(event, "sent")
}
