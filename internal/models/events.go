package models

import "encoding/json"

// Event names pushed to clients.
const (
	EventUserOnline       = "user-online"
	EventUserOffline      = "user-offline"
	EventUserTyping       = "user-typing"
	EventReceiveMessage   = "receive-message"
	EventMessageSent      = "message-sent"
	EventDeliveredReceipt = "message-delivered-receipt"
	EventReadReceipt      = "message-read-receipt"
)

// Event names received from clients.
const (
	EventRegisterUser     = "register-user"
	EventTypingStarted    = "typing-started"
	EventTypingStopped    = "typing-stopped"
	EventMessageDelivered = "message-delivered"
	EventMessageRead      = "message-read"
)

// ClientEvent is the inbound websocket envelope.
type ClientEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ServerEvent is the outbound websocket envelope.
type ServerEvent struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// PresenceEvent announces an online/offline transition.
type PresenceEvent struct {
	UserID int `json:"user_id"`
}

// TypingEvent tells the receiver whether a peer is composing.
type TypingEvent struct {
	UserID   int  `json:"user_id"`
	IsTyping bool `json:"is_typing"`
}

// RegisterPayload binds a user identity to the connection.
type RegisterPayload struct {
	UserID int `json:"user_id"`
}

// TypingPayload carries a typing start/stop request.
type TypingPayload struct {
	SenderID   int `json:"sender_id"`
	ReceiverID int `json:"receiver_id"`
}

// DeliveredPayload acknowledges that a message reached the recipient's client.
type DeliveredPayload struct {
	MessageID int `json:"message_id"`
	SenderID  int `json:"sender_id"`
}

// ReadPayload acknowledges that the recipient's client considers the message viewed.
type ReadPayload struct {
	MessageID int `json:"message_id"`
	ReaderID  int `json:"reader_id"`
	SenderID  int `json:"sender_id"`
}

// DeliveredReceipt is pushed back to the sender of the message.
type DeliveredReceipt struct {
	MessageID int `json:"message_id"`
}

// ReadReceipt is pushed back to the sender of the message.
type ReadReceipt struct {
	MessageID int `json:"message_id"`
	ReaderID  int `json:"reader_id"`
}
