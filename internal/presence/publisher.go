package presence

import (
	"log"

	"messenger-service/internal/models"
	"messenger-service/internal/observability"
)

// Publisher fans presence transitions out to all connected clients.
type Publisher struct {
	registry *Registry
}

// NewPublisher constructs a Publisher over the registry.
func NewPublisher(registry *Registry) *Publisher {
	return &Publisher{registry: registry}
}

// BroadcastOnline announces that the user came online.
func (p *Publisher) BroadcastOnline(userID int) {
	p.broadcast(models.EventUserOnline, userID)
}

// BroadcastOffline announces that the user went offline.
func (p *Publisher) BroadcastOffline(userID int) {
	p.broadcast(models.EventUserOffline, userID)
}

// broadcast pushes the event to every live connection except the subject's
// own. Pushes are fire-and-forget: a failed push is logged and counted, and
// the registry correction happens through the normal disconnect path.
func (p *Publisher) broadcast(event string, userID int) {
	conns := p.registry.ConnsExcept(userID)
	payload := models.PresenceEvent{UserID: userID}
	for _, conn := range conns {
		if err := conn.SendEvent(event, payload); err != nil {
			log.Printf("presence broadcast to conn %s failed: %v", conn.ID(), err)
			observability.IncPush(event, "failed")
			continue
		}
		observability.IncPush(event, "sent")
	}
}
