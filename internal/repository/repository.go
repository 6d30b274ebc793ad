package repository

import (
	"context"
	"errors"
	"time"

	"task-lifecycle-api/internal/models"
)

var (
	// ErrNotFound is returned by point lookups that match no row.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a write trips a unique constraint,
	// most notably the (assigned_to, status, position) partition index.
	ErrDuplicate = errors.New("duplicate key")
)

// TaskFilter narrows List. Zero values mean "no constraint".
type TaskFilter struct {
	Assignee   *string
	Unassigned bool
	Status     models.TaskStatus
	Category   models.TaskCategory
	Limit      int
	Offset     int
	// Ascending sorts by created_at ascending; the default is newest first.
	Ascending bool
}

// HistoryScope restricts the completed-task history used for estimation.
type HistoryScope struct {
	Assignee *string
	Category models.TaskCategory
}

// Sample is one completed task reduced to the two values estimation needs.
type Sample struct {
	StoryPoints int
	Hours       float64
}

// Throughput is the completed work inside a time window.
type Throughput struct {
	Tasks  int
	Points int
}

// TaskRepository is the durable task store the lifecycle engine runs against.
// Implementations must make every call issued inside Transaction part of one atomic unit.
type TaskRepository interface {
	Create(ctx context.Context, task *models.Task) error
	Get(ctx context.Context, id string) (*models.Task, error)
	Save(ctx context.Context, task *models.Task) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter TaskFilter) ([]models.Task, int64, error)

	// Partition returns the tasks of one (assignee, status) pair ordered by position.
	Partition(ctx context.Context, assignee *string, status models.TaskStatus) ([]models.Task, error)
	// MaxPosition reports the highest position in a partition; ok is false when it is empty.
	MaxPosition(ctx context.Context, assignee *string, status models.TaskStatus) (max int, ok bool, err error)
	PositionTaken(ctx context.Context, assignee *string, status models.TaskStatus, position int) (bool, error)
	CountInStatus(ctx context.Context, assignee string, status models.TaskStatus) (int64, error)
	StatusCounts(ctx context.Context, assignee string) (map[models.TaskStatus]int64, error)

	// Place persists tasks whose partition or position changed. Rows are first parked at
	// negative positions so the partition unique index never sees a transient duplicate.
	Place(ctx context.Context, tasks []*models.Task) error

	CompletedSamples(ctx context.Context, scope HistoryScope) ([]Sample, error)
	CompletedSince(ctx context.Context, since time.Time, assignee *string) (Throughput, error)

	// LockAssignees takes transaction-scoped advisory locks for the given partition owners
	// ("" is the unassigned pool). It is a no-op on stores that already serialise writers.
	LockAssignees(ctx context.Context, keys []string) error
	Transaction(ctx context.Context, fn func(repo TaskRepository) error) error
}

// UserDirectory resolves assignee references. The lifecycle engine only looks users up.
type UserDirectory interface {
	UserExists(ctx context.Context, id string) (bool, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
	ListUsers(ctx context.Context) ([]models.User, error)
}
