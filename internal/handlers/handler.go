package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"

	"task-lifecycle-api/internal/auth"
	"task-lifecycle-api/internal/lifecycle"
	"task-lifecycle-api/internal/middleware"
	"task-lifecycle-api/internal/realtime"
	"task-lifecycle-api/internal/repository"

	"github.com/gin-gonic/gin"
)

// Handler serves the REST and websocket endpoints on top of the lifecycle engine.
type Handler struct {
	tasks         *lifecycle.Service
	users         repository.UserDirectory
	tokens        *auth.Issuer
	hub           *realtime.Hub
	velocityWeeks int
}

// Deps are the collaborators a Handler needs.
type Deps struct {
	Tasks  *lifecycle.Service
	Users  repository.UserDirectory
	Tokens *auth.Issuer
	Hub    *realtime.Hub
	// VelocityWeeks is the default window for GET /api/estimates/velocity.
	VelocityWeeks int
}

func New(d Deps) *Handler {
	weeks := d.VelocityWeeks
	if weeks <= 0 {
		weeks = 4
	}
	return &Handler{
		tasks:         d.Tasks,
		users:         d.Users,
		tokens:        d.Tokens,
		hub:           d.Hub,
		velocityWeeks: weeks,
	}
}

// Error codes that are not lifecycle kinds.
const (
	codeUnauthorized = "unauthorized"
	codeUnavailable  = "unavailable"
	codeInternal     = "internal"
)

// statusFor maps an engine error to its HTTP status and machine-readable code.
func statusFor(err error) (int, string) {
	var le *lifecycle.Error
	if errors.As(err, &le) {
		switch le.Kind {
		case lifecycle.KindValidation:
			return http.StatusBadRequest, string(le.Kind)
		case lifecycle.KindNotFound:
			return http.StatusNotFound, string(le.Kind)
		case lifecycle.KindIllegalTransition:
			return http.StatusUnprocessableEntity, string(le.Kind)
		case lifecycle.KindOutOfSequence, lifecycle.KindCapacityExceeded:
			return http.StatusConflict, string(le.Kind)
		case lifecycle.KindOrderConflict:
			return http.StatusServiceUnavailable, string(le.Kind)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return http.StatusServiceUnavailable, codeUnavailable
	}
	return http.StatusInternalServerError, codeInternal
}

func respondError(c *gin.Context, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Printf("%s %s: %v", c.Request.Method, c.FullPath(), err)
		msg = "Internal server error"
	}
	c.JSON(status, gin.H{"error": msg, "code": code})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "code": string(lifecycle.KindValidation)})
}

// currentUser returns the authenticated user id, answering 401 itself when it is missing.
func currentUser(c *gin.Context) (string, bool) {
	userID := middleware.CurrentUserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User ID not found in token", "code": codeUnauthorized})
		return "", false
	}
	return userID, true
}
