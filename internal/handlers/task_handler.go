package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"task-lifecycle-api/internal/lifecycle"
	"task-lifecycle-api/internal/models"
	"task-lifecycle-api/internal/repository"

	"github.com/gin-gonic/gin"
)

// CreateTaskRequest represents the request payload for creating a task
type CreateTaskRequest struct {
	Title       string              `json:"title" binding:"required"`
	Description string              `json:"description"`
	Status      string              `json:"status"`
	StoryPoints *int                `json:"storyPoints"`
	Assignee    *string             `json:"assignee"`
	Category    models.TaskCategory `json:"category"`
	// Position is advisory; the server keeps it only when it does not collide.
	Position *int `json:"position"`
}

// UpdateTaskRequest edits the descriptive fields of a task.
// Status and assignee changes go through PATCH /api/tasks/:id/status.
type UpdateTaskRequest struct {
	Title       *string              `json:"title"`
	Description *string              `json:"description"`
	StoryPoints *int                 `json:"storyPoints"`
	Category    *models.TaskCategory `json:"category"`
}

// UpdateTaskStatusRequest changes status and optionally the assignee.
// An absent assignee keeps the current one; an explicit null unassigns.
type UpdateTaskStatusRequest struct {
	Status   string         `json:"status" binding:"required"`
	Assignee nullableString `json:"assignee"`
}

// ReorderRequest is the batch body of PUT /api/board/reorder.
type ReorderRequest struct {
	Items []ReorderItemRequest `json:"items" binding:"required"`
}

type ReorderItemRequest struct {
	TaskID   string `json:"taskId"`
	Position int    `json:"position"`
	Status   string `json:"status"`
}

// nullableString tells an absent JSON field apart from an explicit null.
type nullableString struct {
	Set   bool
	Value *string
}

func (n *nullableString) UnmarshalJSON(b []byte) error {
	n.Set = true
	if string(b) == "null" {
		n.Value = nil
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	n.Value = &s
	return nil
}

func parseStatusOrDefault(raw string) (models.TaskStatus, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	return models.ParseStatus(raw)
}

/*
*
GetTasks handles GET /api/tasks
Returns tasks team-wide, newest first.
Optional query params: assignee, unassigned=true, status, category, page, limit, sort=asc|desc.
*/
func (h *Handler) GetTasks(c *gin.Context) {
	if _, ok := currentUser(c); !ok {
		return
	}

	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	sortParam := strings.ToLower(c.DefaultQuery("sort", "desc"))

	filter := repository.TaskFilter{
		Category:  models.TaskCategory(c.Query("category")),
		Limit:     limit,
		Offset:    (page - 1) * limit,
		Ascending: sortParam == "asc",
	}
	if raw := c.Query("status"); raw != "" {
		status, err := models.ParseStatus(raw)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		filter.Status = status
	}
	if c.Query("unassigned") == "true" {
		filter.Unassigned = true
	} else if a := c.Query("assignee"); a != "" {
		filter.Assignee = &a
	}

	tasks, total, err := h.tasks.ListTasks(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tasks": tasks,
		"count": len(tasks), // number of items in this page
		"total": total,      // total tasks (all pages) for current filter
		"page":  page,
		"limit": limit,
		"sort":  sortParam,
	})
}

// GetTaskByID handles GET /api/tasks/:id
func (h *Handler) GetTaskByID(c *gin.Context) {
	if _, ok := currentUser(c); !ok {
		return
	}
	task, err := h.tasks.GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

/*
*
CreateTask handles POST /api/tasks
Creates a task on behalf of the authenticated user. The server assigns id, position and estimate.
*/
func (h *Handler) CreateTask(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	status, err := parseStatusOrDefault(req.Status)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	task, err := h.tasks.CreateTask(c.Request.Context(), lifecycle.CreateInput{
		Title:       req.Title,
		Description: req.Description,
		StoryPoints: req.StoryPoints,
		Status:      status,
		Assignee:    req.Assignee,
		Category:    req.Category,
		Position:    req.Position,
		CreatedBy:   userID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

// UpdateTask handles PUT /api/tasks/:id
func (h *Handler) UpdateTask(c *gin.Context) {
	if _, ok := currentUser(c); !ok {
		return
	}

	var req UpdateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	task, err := h.tasks.UpdateDetails(c.Request.Context(), c.Param("id"), lifecycle.DetailsInput{
		Title:       req.Title,
		Description: req.Description,
		StoryPoints: req.StoryPoints,
		Category:    req.Category,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// UpdateTaskStatus handles PATCH /api/tasks/:id/status
// Moves a task between columns, optionally handing it to another assignee in the same step.
func (h *Handler) UpdateTaskStatus(c *gin.Context) {
	if _, ok := currentUser(c); !ok {
		return
	}

	var req UpdateTaskStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	status, err := models.ParseStatus(req.Status)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	task, err := h.tasks.ChangeStatus(c.Request.Context(), c.Param("id"), lifecycle.ChangeRequest{
		Status:   status,
		Assignee: req.Assignee.Value,
		Reassign: req.Assignee.Set,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// ReorderBoard handles PUT /api/board/reorder
// Applies a drag-and-drop batch atomically; every touched column comes back gap-free.
func (h *Handler) ReorderBoard(c *gin.Context) {
	if _, ok := currentUser(c); !ok {
		return
	}

	var req ReorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	items := make([]lifecycle.ReorderItem, 0, len(req.Items))
	for _, it := range req.Items {
		status, err := models.ParseStatus(it.Status)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		items = append(items, lifecycle.ReorderItem{TaskID: it.TaskID, Position: it.Position, Status: status})
	}

	if err := h.tasks.Reorder(c.Request.Context(), items); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Board reordered",
		"count":   len(items),
	})
}

// DeleteTask handles DELETE /api/tasks/:id
func (h *Handler) DeleteTask(c *gin.Context) {
	if _, ok := currentUser(c); !ok {
		return
	}

	taskID := c.Param("id")
	if err := h.tasks.DeleteTask(c.Request.Context(), taskID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Task deleted successfully",
		"id":      taskID,
	})
}

// GetStatsByUser handles GET /api/stats/:userid
// Returns counts of tasks by status for the assignee plus the free WIP slots.
func (h *Handler) GetStatsByUser(c *gin.Context) {
	if _, ok := currentUser(c); !ok {
		return
	}

	target := strings.TrimSpace(c.Param("userid"))
	if target == "" {
		badRequest(c, "userid is required")
		return
	}
	stats, err := h.tasks.Stats(c.Request.Context(), target)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
