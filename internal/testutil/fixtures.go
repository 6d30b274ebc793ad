package testutil

import (
	"sync"
	"time"

	"task-lifecycle-api/internal/models"

	"gorm.io/gorm"
)

// Ptr returns a pointer to v; handy for the nullable task fields.
func Ptr[T any](v T) *T {
	return &v
}

// Clock is a manually advanced clock safe for concurrent readers.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a clock at t (converted to UTC).
func NewClock(t time.Time) *Clock {
	return &Clock{now: t.UTC()}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// SeedUsers inserts users with the given ids; usernames mirror the ids.
func SeedUsers(db *gorm.DB, ids ...string) error {
	for _, id := range ids {
		if err := db.Create(&models.User{ID: id, Username: id, Password: "x"}).Error; err != nil {
			return err
		}
	}
	return nil
}

// SeedDone inserts a completed task that took the given number of hours.
func SeedDone(db *gorm.DB, id, assignee string, points int, hours float64, completedAt time.Time, category models.TaskCategory) error {
	started := completedAt.Add(-time.Duration(hours * float64(time.Hour)))
	var pos int64
	if err := db.Model(&models.Task{}).
		Where("assigned_to = ? AND status = ?", assignee, models.StatusDone).
		Count(&pos).Error; err != nil {
		return err
	}
	return db.Create(&models.Task{
		ID:          id,
		Title:       id,
		Status:      models.StatusDone,
		Position:    int(pos),
		StoryPoints: Ptr(points),
		AssignedTo:  Ptr(assignee),
		Category:    category,
		AssignedAt:  Ptr(started.UTC()),
		CompletedAt: Ptr(completedAt.UTC()),
	}).Error
}
