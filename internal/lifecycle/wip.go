package lifecycle

import (
	"context"

	"task-lifecycle-api/internal/models"
	"task-lifecycle-api/internal/repository"
)

// WIPLimit is the most tasks one assignee may hold in progress at once.
const WIPLimit = 2

// CanAssignToInProgress reports whether assignee has a free in-progress slot.
func CanAssignToInProgress(ctx context.Context, repo repository.TaskRepository, assignee string) (bool, error) {
	n, err := repo.CountInStatus(ctx, assignee, models.StatusInProgress)
	if err != nil {
		return false, err
	}
	return n < WIPLimit, nil
}

func checkCapacity(ctx context.Context, repo repository.TaskRepository, assignee, taskID string) error {
	ok, err := CanAssignToInProgress(ctx, repo, assignee)
	if err != nil {
		return err
	}
	if !ok {
		return newError(KindCapacityExceeded, taskID, "assignee %s already has %d tasks in progress", assignee, WIPLimit)
	}
	return nil
}
