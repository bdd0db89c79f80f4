package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"messenger-service/internal/auth"
	"messenger-service/internal/repositories"
	"messenger-service/internal/telemetry"
)

// AuthHandler manages account endpoints: signup, signin, signout, profile.
type AuthHandler struct {
	users   repositories.UserRepository
	tokens  *auth.Manager
	auditor *telemetry.AuditEmitter
}

// NewAuthHandler builds an AuthHandler.
func NewAuthHandler(users repositories.UserRepository, tokens *auth.Manager, auditor *telemetry.AuditEmitter) *AuthHandler {
	return &AuthHandler{users: users, tokens: tokens, auditor: auditor}
}

// Signup creates an account and returns a bearer token.
func (h *AuthHandler) Signup(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required,email"`
		FullName string `json:"full_name" binding:"required"`
		Password string `json:"password" binding:"required,min=6"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create account"})
		return
	}

	user, err := h.users.CreateUser(c.Request.Context(), req.Email, req.FullName, hash)
	if err != nil {
		if errors.Is(err, repositories.ErrEmailTaken) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "email already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create account"})
		return
	}

	token, err := h.tokens.Issue(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue token"})
		return
	}

	h.emitAudit(c, "INFO", "user signed up", user.ID)
	h.setTokenCookie(c, token)
	c.JSON(http.StatusCreated, gin.H{"token": token, "user": user})
}

// Signin verifies credentials and returns a bearer token.
func (h *AuthHandler) Signin(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.users.GetByEmail(c.Request.Context(), req.Email)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not sign in"})
		return
	}
	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		h.emitAudit(c, "WARN", "failed signin attempt", user.ID)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, err := h.tokens.Issue(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue token"})
		return
	}

	h.emitAudit(c, "INFO", "user signed in", user.ID)
	h.setTokenCookie(c, token)
	c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
}

// Signout clears the token cookie set at signin; header-based clients just
// discard their copy.
func (h *AuthHandler) Signout(c *gin.Context) {
	c.SetCookie("token", "", -1, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"message": "signed out"})
}

// setTokenCookie installs the token as an httpOnly cookie alongside the body
// response, for clients that prefer cookie auth.
func (h *AuthHandler) setTokenCookie(c *gin.Context, token string) {
	c.SetCookie("token", token, int(h.tokens.TTL().Seconds()), "/", "", false, true)
}

// UpdateProfile replaces the caller's profile picture URL.
func (h *AuthHandler) UpdateProfile(c *gin.Context) {
	var req struct {
		ProfilePic string `json:"profile_pic" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetInt("userID")
	user, err := h.users.UpdateProfilePic(c.Request.Context(), userID, req.ProfilePic)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not update profile"})
		return
	}

	c.JSON(http.StatusOK, user)
}

func (h *AuthHandler) emitAudit(c *gin.Context, level, text string, userID int) {
	id := userIDString(userID)
	h.auditor.Emit(c.Request.Context(), level, text, requestIDFromContext(c), id)
}
