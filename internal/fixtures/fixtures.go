// Package fixtures loads YAML board snapshots and replays them through the lifecycle
// engine, so seeded data obeys the same ordering, WIP and timestamp rules as live traffic.
package fixtures

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"task-lifecycle-api/internal/lifecycle"
	"task-lifecycle-api/internal/models"
	"task-lifecycle-api/internal/repository"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// File is the root of a fixture document.
type File struct {
	Users []User `yaml:"users"`
	Tasks []Task `yaml:"tasks"`
}

type User struct {
	ID       string `yaml:"id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Task is one seeded task. StartedAt is required for inprogress and done tasks,
// CompletedAt for done tasks; together they become the estimation history.
type Task struct {
	Title       string              `yaml:"title"`
	Description string              `yaml:"description"`
	Assignee    string              `yaml:"assignee"`
	StoryPoints *int                `yaml:"storyPoints"`
	Category    models.TaskCategory `yaml:"category"`
	Status      string              `yaml:"status"`
	StartedAt   *time.Time          `yaml:"startedAt"`
	CompletedAt *time.Time          `yaml:"completedAt"`
}

// Load reads and validates a fixture file. Unknown keys are rejected.
func Load(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	return Parse(raw)
}

// Parse decodes and validates a fixture document.
func Parse(raw []byte) (*File, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) validate() error {
	var errs []error
	for i, u := range f.Users {
		if u.ID == "" || u.Username == "" || u.Password == "" {
			errs = append(errs, fmt.Errorf("users[%d]: id, username and password are required", i))
		}
	}
	for i, t := range f.Tasks {
		status, err := t.status()
		if err != nil {
			errs = append(errs, fmt.Errorf("tasks[%d]: %w", i, err))
			continue
		}
		if status != models.StatusTodo && t.StartedAt == nil {
			errs = append(errs, fmt.Errorf("tasks[%d]: startedAt is required for %s", i, status))
		}
		if status == models.StatusDone {
			if t.CompletedAt == nil {
				errs = append(errs, fmt.Errorf("tasks[%d]: completedAt is required for done", i))
			} else if t.StartedAt != nil && t.CompletedAt.Before(*t.StartedAt) {
				errs = append(errs, fmt.Errorf("tasks[%d]: completedAt precedes startedAt", i))
			}
		}
	}
	return errors.Join(errs...)
}

func (t Task) status() (models.TaskStatus, error) {
	if t.Status == "" {
		return models.StatusTodo, nil
	}
	return models.ParseStatus(t.Status)
}

// Clock is the settable clock the seeding service must be built with.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock() *Clock {
	return &Clock{now: time.Now().UTC()}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}

// Summary counts what Apply wrote.
type Summary struct {
	Users        int
	UsersSkipped int
	Tasks        int
}

// Apply writes users, then replays finished tasks, then started ones, then queues todo tasks.
// Todo tasks go last so that backlog entries never block the replayed starts.
func Apply(ctx context.Context, f *File, svc *lifecycle.Service, users repository.UserDirectory, clock *Clock) (Summary, error) {
	var sum Summary
	for _, u := range f.Users {
		_, err := users.FindByUsername(ctx, u.Username)
		if err == nil {
			sum.UsersSkipped++
			continue
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return sum, err
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
		if err != nil {
			return sum, err
		}
		if err := users.CreateUser(ctx, &models.User{ID: u.ID, Username: u.Username, Password: string(hash)}); err != nil {
			return sum, fmt.Errorf("create user %s: %w", u.Username, err)
		}
		sum.Users++
	}

	byStatus := make(map[models.TaskStatus][]Task)
	for _, t := range f.Tasks {
		status, _ := t.status()
		byStatus[status] = append(byStatus[status], t)
	}
	for _, status := range []models.TaskStatus{models.StatusDone, models.StatusInProgress} {
		for _, t := range byStatus[status] {
			if err := replay(ctx, svc, clock, t, status); err != nil {
				return sum, err
			}
			sum.Tasks++
		}
	}
	clock.set(time.Now())
	for _, t := range byStatus[models.StatusTodo] {
		if _, err := svc.CreateTask(ctx, t.input()); err != nil {
			return sum, fmt.Errorf("seed %q: %w", t.Title, err)
		}
		sum.Tasks++
	}
	return sum, nil
}

func (t Task) input() lifecycle.CreateInput {
	in := lifecycle.CreateInput{
		Title:       t.Title,
		Description: t.Description,
		StoryPoints: t.StoryPoints,
		Category:    t.Category,
		CreatedBy:   t.Assignee,
	}
	if t.Assignee != "" {
		a := t.Assignee
		in.Assignee = &a
	}
	return in
}

func replay(ctx context.Context, svc *lifecycle.Service, clock *Clock, t Task, status models.TaskStatus) error {
	clock.set(*t.StartedAt)
	task, err := svc.CreateTask(ctx, t.input())
	if err != nil {
		return fmt.Errorf("seed %q: %w", t.Title, err)
	}
	if _, err := svc.ChangeStatus(ctx, task.ID, lifecycle.ChangeRequest{Status: models.StatusInProgress}); err != nil {
		return fmt.Errorf("start %q: %w", t.Title, err)
	}
	if status == models.StatusDone {
		clock.set(*t.CompletedAt)
		if _, err := svc.ChangeStatus(ctx, task.ID, lifecycle.ChangeRequest{Status: models.StatusDone}); err != nil {
			return fmt.Errorf("finish %q: %w", t.Title, err)
		}
	}
	return nil
}
