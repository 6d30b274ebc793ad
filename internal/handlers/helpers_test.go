package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"task-lifecycle-api/internal/auth"
	"task-lifecycle-api/internal/cache"
	"task-lifecycle-api/internal/config"
	"task-lifecycle-api/internal/estimation"
	"task-lifecycle-api/internal/lifecycle"
	"task-lifecycle-api/internal/middleware"
	"task-lifecycle-api/internal/realtime"
	"task-lifecycle-api/internal/repository"
	"task-lifecycle-api/internal/testutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type testServer struct {
	t      *testing.T
	router *gin.Engine
	db     *gorm.DB
	tokens *auth.Issuer
	hub    *realtime.Hub
	clock  *testutil.Clock
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db, err := testutil.NewInMemoryDB()
	require.NoError(t, err)
	require.NoError(t, testutil.SeedUsers(db, "u-1", "u-2"))

	store := repository.NewGormStore(db)
	clock := testutil.NewClock(time.Date(2025, 2, 3, 9, 0, 0, 0, time.UTC))
	est := estimation.New(store, cache.NewTTLCache[string, estimation.Summary](cache.Options{TTL: time.Minute}), clock.Now)
	hub := realtime.NewHub()
	svc := lifecycle.NewService(store, store, est, lifecycle.WithClock(clock), lifecycle.WithPublisher(hub))
	tokens := auth.NewIssuer(config.DefaultConfig().Auth)

	h := New(Deps{Tasks: svc, Users: store, Tokens: tokens, Hub: hub, VelocityWeeks: 4})
	r := gin.New()
	r.POST("/api/login", h.Login)
	api := r.Group("/api", middleware.JWTAuthMiddleware(tokens))
	api.GET("/tasks", h.GetTasks)
	api.GET("/tasks/:id", h.GetTaskByID)
	api.POST("/tasks", h.CreateTask)
	api.PUT("/tasks/:id", h.UpdateTask)
	api.PATCH("/tasks/:id/status", h.UpdateTaskStatus)
	api.DELETE("/tasks/:id", h.DeleteTask)
	api.PUT("/board/reorder", h.ReorderBoard)
	api.GET("/estimates", h.GetEstimate)
	api.GET("/estimates/velocity", h.GetVelocity)
	api.GET("/estimates/hours-per-point", h.GetHoursPerPoint)
	api.GET("/users", h.GetAllUsers)
	api.GET("/stats/:userid", h.GetStatsByUser)

	return &testServer{t: t, router: r, db: db, tokens: tokens, hub: hub, clock: clock}
}

// do sends a request as user u-1; a nil payload sends no body.
func (s *testServer) do(method, path string, payload any) *httptest.ResponseRecorder {
	s.t.Helper()
	token, err := s.tokens.GenerateToken("u-1", "alice")
	require.NoError(s.t, err)
	return s.send(method, path, payload, token)
}

func (s *testServer) send(method, path string, payload any, token string) *httptest.ResponseRecorder {
	s.t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(s.t, err)
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}
