package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"messenger-service/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository is the durable message store. Delivery and read-set
// mutations are idempotent: marking twice is harmless and readers are a set.
type MessageRepository interface {
	CreateMessage(ctx context.Context, senderID, receiverID int, text, imageURL *string) (models.Message, error)
	GetMessage(ctx context.Context, messageID int) (models.Message, error)
	GetConversation(ctx context.Context, userA, userB int) ([]models.Message, error)
	MarkDelivered(ctx context.Context, messageID int) error
	AddReader(ctx context.Context, messageID, userID int) (bool, error)
	MarkConversationRead(ctx context.Context, senderID, readerID int) error
	LatestMessage(ctx context.Context, userA, userB int) (models.Message, error)
	CountUnread(ctx context.Context, senderID, receiverID int) (int, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs a MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `m.id, m.sender_id, m.receiver_id, m.text, m.image_url, m.delivered, m.created_at,
    ARRAY(SELECT r.user_id FROM message_reads r WHERE r.message_id = m.id ORDER BY r.user_id) AS read_by`

// CreateMessage persists a new message with delivered=false and an empty read set.
func (r *MessageRepo) CreateMessage(ctx context.Context, senderID, receiverID int, text, imageURL *string) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO messages (sender_id, receiver_id, text, image_url) VALUES ($1, $2, $3, $4)
         RETURNING id, sender_id, receiver_id, text, image_url, delivered, created_at`,
		senderID, receiverID, text, imageURL).
		Scan(&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.Text, &msg.ImageURL, &msg.Delivered, &msg.CreatedAt)
	msg.ReadBy = pq.Int64Array{}
	return msg, err
}

// GetMessage retrieves a single message with its read set.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg,
		`SELECT `+messageColumns+` FROM messages m WHERE m.id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// GetConversation returns all messages between two users in send order.
func (r *MessageRepo) GetConversation(ctx context.Context, userA, userB int) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs,
		`SELECT `+messageColumns+` FROM messages m
         WHERE (m.sender_id=$1 AND m.receiver_id=$2) OR (m.sender_id=$2 AND m.receiver_id=$1)
         ORDER BY m.created_at ASC`, userA, userB)
	return msgs, err
}

// MarkDelivered flips the delivered flag. Re-marking an already delivered
// message is a no-op that still succeeds.
func (r *MessageRepo) MarkDelivered(ctx context.Context, messageID int) error {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET delivered = TRUE WHERE id=$1`, messageID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// AddReader adds the user to the message's read set. Returns whether the
// reader was newly added; a duplicate add reports false with no error.
func (r *MessageRepo) AddReader(ctx context.Context, messageID, userID int) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO message_reads (message_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		messageID, userID)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23503" {
		return false, ErrMessageNotFound
	}
	if err != nil {
		return false, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// MarkConversationRead adds the reader to every message the sender addressed
// to them, skipping messages already read.
func (r *MessageRepo) MarkConversationRead(ctx context.Context, senderID, readerID int) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO message_reads (message_id, user_id)
         SELECT id, $2 FROM messages WHERE sender_id=$1 AND receiver_id=$2
         ON CONFLICT DO NOTHING`, senderID, readerID)
	return err
}

// LatestMessage returns the most recent message between two users.
func (r *MessageRepo) LatestMessage(ctx context.Context, userA, userB int) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg,
		`SELECT `+messageColumns+` FROM messages m
         WHERE (m.sender_id=$1 AND m.receiver_id=$2) OR (m.sender_id=$2 AND m.receiver_id=$1)
         ORDER BY m.created_at DESC LIMIT 1`, userA, userB)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// CountUnread counts messages from the sender that the receiver has not read.
func (r *MessageRepo) CountUnread(ctx context.Context, senderID, receiverID int) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM messages m
         WHERE m.sender_id=$1 AND m.receiver_id=$2
         AND NOT EXISTS (SELECT 1 FROM message_reads r WHERE r.message_id=m.id AND r.user_id=$2)`,
		senderID, receiverID)
	return count, err
}
