// Package telemetry covers the audit event stream and trace exporting.
package telemetry

import (
	"context"
	"log"
	"time"
)

// Publisher is the broker-side sink for audit events.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
	Close() error
}

const auditSchemaVersion = 1

// AuditEvent is the wire form of one audit record: account activity such as
// signups, signins and failed attempts.
type AuditEvent struct {
	SchemaVersion int       `json:"schema_version"`
	EventType     string    `json:"event_type"`
	OccurredAt    time.Time `json:"occurred_at"`
	Service       string    `json:"service"`
	Environment   string    `json:"environment"`
	RequestID     string    `json:"request_id"`
	UserID        *string   `json:"user_id,omitempty"`
	Level         string    `json:"level"`
	Text          string    `json:"text"`
}

// AuditEmitter publishes audit records on a fixed routing key. A nil emitter
// or a missing publisher makes every Emit a no-op.
type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
	}
}

// Emit publishes one audit record. Failures are logged, never surfaced: audit
// must not break the request that triggered it.
func (e *AuditEmitter) Emit(ctx context.Context, level, text, requestID string, userID *string) {
	if e == nil || e.publisher == nil {
		return
	}

	event := AuditEvent{
		SchemaVersion: auditSchemaVersion,
		EventType:     "audit_log",
		OccurredAt:    time.Now().UTC(),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     requestID,
		UserID:        userID,
		Level:         level,
		Text:          text,
	}

	if err := e.publisher.Publish(ctx, e.routingKey, event, nil); err != nil {
		log.Printf("audit publish failed: %v", err)
	}
}
