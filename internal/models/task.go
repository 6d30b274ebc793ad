package models

import (
	"fmt"
	"strings"
	"time"
)

// TaskStatus represents the lifecycle state of a task
type TaskStatus string

const (
	StatusTodo       TaskStatus = "todo"
	StatusInProgress TaskStatus = "inprogress"
	StatusDone       TaskStatus = "done"
)

// Valid reports whether s is one of the three known states.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone:
		return true
	}
	return false
}

// ParseStatus accepts the persisted literal plus the camelCase form the web client sends.
func ParseStatus(raw string) (TaskStatus, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "todo":
		return StatusTodo, nil
	case "inprogress", "in_progress":
		return StatusInProgress, nil
	case "done":
		return StatusDone, nil
	}
	return "", fmt.Errorf("unknown status %q", raw)
}

// TaskCategory is the kind of work a task represents (story, defect, subtask)
type TaskCategory string

const (
	CategoryStory   TaskCategory = "story"
	CategoryDefect  TaskCategory = "defect"
	CategorySubtask TaskCategory = "subtask"
)

// Valid reports whether c is a known category. The empty category is allowed and means "uncategorised".
func (c TaskCategory) Valid() bool {
	switch c {
	case "", CategoryStory, CategoryDefect, CategorySubtask:
		return true
	}
	return false
}

// Task represents a task in the system
type Task struct {
	ID              string       `json:"id" gorm:"primaryKey"`
	Title           string       `json:"title" gorm:"not null"`
	Description     string       `json:"description"`
	Status          TaskStatus   `json:"status" gorm:"not null;default:'todo';uniqueIndex:idx_tasks_partition_position,priority:2"`
	Position        int          `json:"position" gorm:"not null;default:0;uniqueIndex:idx_tasks_partition_position,priority:3"`
	StoryPoints     *int         `json:"storyPoints" gorm:"column:story_points"`
	AssignedTo      *string      `json:"assignedTo" gorm:"column:assigned_to;uniqueIndex:idx_tasks_partition_position,priority:1"`
	Category        TaskCategory `json:"category" gorm:"column:category;index"`
	AssignedAt      *time.Time   `json:"assignedAt" gorm:"column:assigned_at"`
	CompletedAt     *time.Time   `json:"completedAt" gorm:"column:completed_at;index"`
	EstimatedHours  *float64     `json:"estimatedHours" gorm:"column:estimated_hours"`
	ConfidenceLevel *float64     `json:"confidenceLevel" gorm:"column:confidence_level"`
	CreatedBy       string       `json:"createdBy" gorm:"column:created_by;index"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

// TableName specifies the table name for Task Model
func (Task) TableName() string {
	return "tasks"
}

// AssigneeKey returns the assignee id, or "" for an unassigned task.
func (t *Task) AssigneeKey() string {
	if t.AssignedTo == nil {
		return ""
	}
	return *t.AssignedTo
}

// SameAssignee compares two nullable assignee references.
func SameAssignee(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
