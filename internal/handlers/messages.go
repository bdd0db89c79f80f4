package handlers

import (
	"errors"
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"

	"messenger-service/internal/models"
	"messenger-service/internal/presence"
	"messenger-service/internal/repositories"
	"messenger-service/internal/router"
)

// MessageHandler manages the roster and message endpoints.
type MessageHandler struct {
	users    repositories.UserRepository
	messages repositories.MessageRepository
	registry *presence.Registry
	router   *router.Router
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(users repositories.UserRepository, messages repositories.MessageRepository, registry *presence.Registry, messageRouter *router.Router) *MessageHandler {
	return &MessageHandler{users: users, messages: messages, registry: registry, router: messageRouter}
}

// ListUsers returns every other user with conversation summary and presence,
// most recent conversation first.
func (h *MessageHandler) ListUsers(c *gin.Context) {
	userID := c.GetInt("userID")

	users, err := h.users.ListOthers(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load users"})
		return
	}

	roster := make([]models.RosterEntry, 0, len(users))
	for _, u := range users {
		entry := models.RosterEntry{User: u, Status: "offline"}
		if h.registry.IsOnline(u.ID) {
			entry.Status = "online"
		}

		latest, err := h.messages.LatestMessage(c.Request.Context(), userID, u.ID)
		if err != nil && !errors.Is(err, repositories.ErrMessageNotFound) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversations"})
			return
		}
		if err == nil {
			entry.LatestMessage = &latest
		}

		unread, err := h.messages.CountUnread(c.Request.Context(), u.ID, userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversations"})
			return
		}
		entry.UnreadCount = unread

		roster = append(roster, entry)
	}

	sort.SliceStable(roster, func(i, j int) bool {
		a, b := roster[i].LatestMessage, roster[j].LatestMessage
		if a == nil {
			return false
		}
		if b == nil {
			return true
		}
		return a.CreatedAt.After(b.CreatedAt)
	})

	c.JSON(http.StatusOK, roster)
}

// GetConversation returns the ordered message history with a peer. Fetching
// the history also marks the peer's messages as read by the caller, matching
// the open-conversation semantics of the client.
func (h *MessageHandler) GetConversation(c *gin.Context) {
	peerID, err := strconv.Atoi(c.Param("user_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	userID := c.GetInt("userID")

	msgs, err := h.messages.GetConversation(c.Request.Context(), userID, peerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	if err := h.messages.MarkConversationRead(c.Request.Context(), peerID, userID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark messages read"})
		return
	}

	c.JSON(http.StatusOK, msgs)
}

// SendMessage persists a message and routes it to live connections.
func (h *MessageHandler) SendMessage(c *gin.Context) {
	receiverID, err := strconv.Atoi(c.Param("receiver_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid receiver id"})
		return
	}
	userID := c.GetInt("userID")
	if receiverID == userID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot message yourself"})
		return
	}

	var req struct {
		Text     *string `json:"text"`
		ImageURL *string `json:"image_url"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if (req.Text == nil || *req.Text == "") && (req.ImageURL == nil || *req.ImageURL == "") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message needs text or image"})
		return
	}

	if _, err := h.users.GetByID(c.Request.Context(), receiverID); err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "receiver not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send message"})
		return
	}

	msg, err := h.messages.CreateMessage(c.Request.Context(), userID, receiverID, req.Text, req.ImageURL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store message"})
		return
	}

	h.router.RouteNewMessage(c.Request.Context(), msg)
	c.JSON(http.StatusCreated, msg)
}

// MarkMessageRead records a read receipt for the caller and notifies the
// sender's live connection.
func (h *MessageHandler) MarkMessageRead(c *gin.Context) {
	messageID, err := strconv.Atoi(c.Param("message_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return
	}
	userID := c.GetInt("userID")

	msg, err := h.messages.GetMessage(c.Request.Context(), messageID)
	if err != nil {
		if errors.Is(err, repositories.ErrMessageNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load message"})
		return
	}
	if msg.ReceiverID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "not the recipient"})
		return
	}

	if err := h.router.HandleRead(c.Request.Context(), messageID, userID, msg.SenderID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark message read"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "message marked as read"})
}
