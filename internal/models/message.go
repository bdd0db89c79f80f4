package models

import (
	"time"

	"github.com/lib/pq"
)

// Message represents a direct message between two users. Text and image are
// both optional but at least one is set. ReadBy is the set of users that have
// acknowledged reading the message; Delivered flips once the recipient's
// client acknowledges reception. Both are monotone: never unset once set.
type Message struct {
	ID         int           `db:"id" json:"id"`
	SenderID   int           `db:"sender_id" json:"sender_id"`
	ReceiverID int           `db:"receiver_id" json:"receiver_id"`
	Text       *string       `db:"text" json:"text,omitempty"`
	ImageURL   *string       `db:"image_url" json:"image_url,omitempty"`
	Delivered  bool          `db:"delivered" json:"delivered"`
	ReadBy     pq.Int64Array `db:"read_by" json:"read_by"`
	CreatedAt  time.Time     `db:"created_at" json:"created_at"`
}

// ReadByUser reports whether the user already acknowledged reading the message.
func (m Message) ReadByUser(userID int) bool {
	for _, id := range m.ReadBy {
		if int(id) == userID {
			return true
		}
	}
	return false
}
