// Package presence tracks which users currently hold a live connection and
// broadcasts online/offline transitions to every connected client.
package presence

// Conn is an opaque handle to a live transport session. Sends are best-effort:
// a failed send never blocks other sends and never mutates the registry.
type Conn interface {
	ID() string
	SendEvent(event string, data any) error
	Close() error
}
