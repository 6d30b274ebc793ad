package handlers

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"task-lifecycle-api/internal/models"
	"task-lifecycle-api/internal/repository"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// LoginRequest represents the login request payload
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse represents the login response
type LoginResponse struct {
	Token    string `json:"token"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Message  string `json:"message"`
}

// Login handles POST /api/login
// The first login for a username registers it; later logins must present the same password.
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request. Username and password are required.")
		return
	}
	username := strings.TrimSpace(req.Username)
	if username == "" {
		badRequest(c, "Invalid request. Username and password are required.")
		return
	}

	ctx := c.Request.Context()
	user, err := h.users.FindByUsername(ctx, username)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		hash, herr := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if herr != nil {
			respondError(c, herr)
			return
		}
		user = &models.User{ID: uuid.NewString(), Username: username, Password: string(hash)}
		if err := h.users.CreateUser(ctx, user); err != nil {
			respondError(c, err)
			return
		}
		log.Printf("registered user %s (%s)", user.Username, user.ID)
	case err != nil:
		respondError(c, err)
		return
	default:
		if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)) != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid username or password", "code": codeUnauthorized})
			return
		}
	}

	token, err := h.tokens.GenerateToken(user.ID, user.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token", "code": codeInternal})
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		Token:    token,
		UserID:   user.ID,
		Username: user.Username,
		Message:  "Login successful",
	})
}
