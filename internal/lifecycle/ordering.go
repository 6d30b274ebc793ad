package lifecycle

import (
	"context"
	"math"
	"sort"

	"task-lifecycle-api/internal/models"
	"task-lifecycle-api/internal/repository"
)

// MaxPositionGap is how far past the tail an advisory position may land.
const MaxPositionGap = 1000

// NextPosition returns max(position)+1 for the partition, or 0 when it is empty.
// Call it on a transaction-scoped repository so the read and the following write are atomic.
func NextPosition(ctx context.Context, repo repository.TaskRepository, assignee *string, status models.TaskStatus) (int, error) {
	max, ok, err := repo.MaxPosition(ctx, assignee, status)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	if max == math.MaxInt {
		return 0, validationf("partition %s has no position left after %d", status, max)
	}
	return max + 1, nil
}

// ReconcilePosition treats requested as advisory. It is kept only when it is free and
// lies between the current tail and MaxPositionGap beyond it; anything else is
// replaced by NextPosition.
func ReconcilePosition(ctx context.Context, repo repository.TaskRepository, assignee *string, status models.TaskStatus, requested *int) (int, error) {
	next, err := NextPosition(ctx, repo, assignee, status)
	if err != nil {
		return 0, err
	}
	if requested == nil || *requested < next || *requested-next > MaxPositionGap {
		return next, nil
	}
	taken, err := repo.PositionTaken(ctx, assignee, status, *requested)
	if err != nil {
		return 0, err
	}
	if taken {
		return next, nil
	}
	return *requested, nil
}

// Normalize renumbers a partition to 0..n-1, keeping its current order.
func Normalize(ctx context.Context, repo repository.TaskRepository, assignee *string, status models.TaskStatus) error {
	members, err := repo.Partition(ctx, assignee, status)
	if err != nil {
		return err
	}
	changed := compact(members, "")
	if len(changed) == 0 {
		return nil
	}
	return repo.Place(ctx, changed)
}

// compact renumbers members (already in position order) densely, skipping skipID,
// and returns only the tasks whose position moved.
func compact(members []models.Task, skipID string) []*models.Task {
	var changed []*models.Task
	next := 0
	for i := range members {
		if members[i].ID == skipID {
			continue
		}
		if members[i].Position != next {
			members[i].Position = next
			changed = append(changed, &members[i])
		}
		next++
	}
	return changed
}

// partitionKey identifies one (assignee, status) ordering domain.
type partitionKey struct {
	assignee string
	assigned bool
	status   models.TaskStatus
}

func keyOf(assignee *string, status models.TaskStatus) partitionKey {
	if assignee == nil {
		return partitionKey{status: status}
	}
	return partitionKey{assignee: *assignee, assigned: true, status: status}
}

func (k partitionKey) assigneeRef() *string {
	if !k.assigned {
		return nil
	}
	a := k.assignee
	return &a
}

// slot is one task competing for a place in a partition during a batch reorder.
type slot struct {
	task     *models.Task
	advisory int
	// rank 0 = named in the batch, 1 = untouched member; batch entries win ties.
	rank  int
	index int
}

// planPartition orders slots by advisory position, then rank, then input order,
// and assigns the dense sequence 0..n-1 in that order.
func planPartition(slots []slot) []*models.Task {
	sort.SliceStable(slots, func(i, j int) bool {
		a, b := slots[i], slots[j]
		if a.advisory != b.advisory {
			return a.advisory < b.advisory
		}
		if a.rank != b.rank {
			return a.rank < b.rank
		}
		return a.index < b.index
	})
	out := make([]*models.Task, 0, len(slots))
	for i := range slots {
		slots[i].task.Position = i
		out = append(out, slots[i].task)
	}
	return out
}
