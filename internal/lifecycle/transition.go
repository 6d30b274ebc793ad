package lifecycle

import (
	"context"
	"time"

	"task-lifecycle-api/internal/models"
	"task-lifecycle-api/internal/repository"
)

// ValidateTransition checks an edge against the state table. Same-state requests are
// always legal; Done may only re-open to Todo; Todo cannot skip straight to Done.
func ValidateTransition(from, to models.TaskStatus) error {
	if !to.Valid() {
		return validationf("unknown status %q", to)
	}
	if from == to {
		return nil
	}
	switch from {
	case models.StatusTodo:
		if to == models.StatusInProgress {
			return nil
		}
	case models.StatusInProgress:
		if to == models.StatusTodo || to == models.StatusDone {
			return nil
		}
	case models.StatusDone:
		if to == models.StatusTodo {
			return nil
		}
	}
	return newError(KindIllegalTransition, "", "cannot move a task from %s to %s", from, to)
}

// ApplySideEffects sets and clears lifecycle timestamps for a legal move into to.
func ApplySideEffects(task *models.Task, to models.TaskStatus, now time.Time) {
	if task.Status == to {
		return
	}
	switch to {
	case models.StatusInProgress:
		if task.AssignedAt == nil {
			at := now
			task.AssignedAt = &at
		}
	case models.StatusDone:
		at := now
		task.CompletedAt = &at
	case models.StatusTodo:
		task.AssignedAt = nil
		task.CompletedAt = nil
	}
}

// CheckSequence enforces backlog order on the Todo -> InProgress edge: no task of assignee
// with a lower position may still be Todo. A task arriving from another assignee's
// backlog counts as appended, so any existing Todo task blocks it. Tasks in skip are ignored.
func CheckSequence(ctx context.Context, repo repository.TaskRepository, task *models.Task, assignee string, skip map[string]bool) error {
	backlog, err := repo.Partition(ctx, &assignee, models.StatusTodo)
	if err != nil {
		return err
	}
	own := task.AssignedTo != nil && *task.AssignedTo == assignee && task.Status == models.StatusTodo
	for _, sibling := range backlog {
		if sibling.ID == task.ID || skip[sibling.ID] {
			continue
		}
		if !own || sibling.Position < task.Position {
			return newError(KindOutOfSequence, task.ID, "task %q at position %d must be started first", sibling.Title, sibling.Position)
		}
	}
	return nil
}
