package routes

import (
	"task-lifecycle-api/internal/handlers"
	"task-lifecycle-api/internal/middleware"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(h *handlers.Handler, tokens middleware.TokenValidator) *gin.Engine {
	ginRouter := gin.Default()

	// CORS middleware (for frontend integration)
	ginRouter.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	ginRouter.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"message": "Task lifecycle API is running",
		})
	})

	// Public routes (no authentication required)
	api := ginRouter.Group("/api")
	{
		api.POST("/login", h.Login)
	}

	// Protected routes (authentication required)
	protectedRoutes := api.Group("")
	protectedRoutes.Use(middleware.JWTAuthMiddleware(tokens))
	{
		protectedRoutes.GET("/tasks", h.GetTasks)
		protectedRoutes.GET("/tasks/:id", h.GetTaskByID)
		protectedRoutes.POST("/tasks", h.CreateTask)
		protectedRoutes.PUT("/tasks/:id", h.UpdateTask)
		protectedRoutes.PATCH("/tasks/:id/status", h.UpdateTaskStatus)
		protectedRoutes.DELETE("/tasks/:id", h.DeleteTask)
		protectedRoutes.PUT("/board/reorder", h.ReorderBoard)

		protectedRoutes.GET("/estimates", h.GetEstimate)
		protectedRoutes.GET("/estimates/velocity", h.GetVelocity)
		protectedRoutes.GET("/estimates/hours-per-point", h.GetHoursPerPoint)

		protectedRoutes.GET("/users", h.GetAllUsers)
		protectedRoutes.GET("/stats/:userid", h.GetStatsByUser)
		protectedRoutes.GET("/ws", h.WebSocket)
	}

	return ginRouter
}
