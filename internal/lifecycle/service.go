package lifecycle

import (
	"context"
	"errors"
	"log"
	"sort"
	"strings"
	"time"

	"task-lifecycle-api/internal/estimation"
	"task-lifecycle-api/internal/models"
	"task-lifecycle-api/internal/realtime"
	"task-lifecycle-api/internal/repository"

	"github.com/google/uuid"
)

// Clock supplies the timestamps written by transitions.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Publisher receives events after their transaction commits.
type Publisher interface {
	Publish(evt realtime.Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(realtime.Event) {}

// Service is the task lifecycle and assignment engine. Every mutation runs in one
// repository transaction under per-assignee locks, so WIP and ordering checks are
// evaluated against the same state the write commits into.
type Service struct {
	repo      repository.TaskRepository
	users     repository.UserDirectory
	estimator *estimation.Estimator
	clock     Clock
	events    Publisher
	locks     *keyedMutex
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the wall clock.
func WithClock(c Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithPublisher routes committed events to p.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.events = p }
}

// NewService wires the engine to its collaborators.
func NewService(repo repository.TaskRepository, users repository.UserDirectory, estimator *estimation.Estimator, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		users:     users,
		estimator: estimator,
		clock:     systemClock{},
		events:    nopPublisher{},
		locks:     newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateInput describes a new task. Position is advisory.
type CreateInput struct {
	Title       string
	Description string
	StoryPoints *int
	Status      models.TaskStatus
	Assignee    *string
	Category    models.TaskCategory
	Position    *int
	CreatedBy   string
}

// ChangeRequest asks for a status change and, when Reassign is set, a new assignee (nil unassigns).
type ChangeRequest struct {
	Status   models.TaskStatus
	Assignee *string
	Reassign bool
}

// ReorderItem is one entry of a batch reorder. Position is advisory; only relative order is kept.
type ReorderItem struct {
	TaskID   string
	Position int
	Status   models.TaskStatus
}

// DetailsInput edits the fields that carry no lifecycle meaning. Nil leaves a field unchanged.
type DetailsInput struct {
	Title       *string
	Description *string
	StoryPoints *int
	Category    *models.TaskCategory
}

// Stats is the per-assignee board summary.
type Stats struct {
	Todo         int64 `json:"todo"`
	InProgress   int64 `json:"inProgress"`
	Done         int64 `json:"done"`
	Total        int64 `json:"total"`
	WIPLimit     int   `json:"wipLimit"`
	WIPAvailable int   `json:"wipAvailable"`
}

func ownerKey(assignee *string) string {
	if assignee == nil {
		return ""
	}
	return *assignee
}

func (s *Service) wrap(err error, taskID string) error {
	if err == nil {
		return nil
	}
	var le *Error
	if errors.As(err, &le) {
		if le.TaskID == "" && taskID != "" && le.Kind != KindValidation {
			le.TaskID = taskID
		}
		return le
	}
	if errors.Is(err, repository.ErrNotFound) {
		return &Error{Kind: KindNotFound, TaskID: taskID, Message: "task not found"}
	}
	if errors.Is(err, estimation.ErrInvalidInput) {
		return &Error{Kind: KindValidation, Message: err.Error()}
	}
	return err
}

func (s *Service) resolveAssignee(ctx context.Context, assignee *string) error {
	if assignee == nil {
		return nil
	}
	if strings.TrimSpace(*assignee) == "" {
		return validationf("assignee must not be blank")
	}
	ok, err := s.users.UserExists(ctx, *assignee)
	if err != nil {
		return err
	}
	if !ok {
		return validationf("unknown assignee %q", *assignee)
	}
	return nil
}

func (s *Service) publish(evt realtime.Event, recipients ...string) {
	evt.Recipients = recipients
	s.events.Publish(evt)
}

// CreateTask validates and inserts a task at the end of its partition (or at an accepted
// advisory position). Tasks may be created in todo or, with an assignee under the WIP
// limit and an empty backlog, in inprogress. An estimate is written when story points are present.
func (s *Service) CreateTask(ctx context.Context, in CreateInput) (*models.Task, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, validationf("title is required")
	}
	if in.StoryPoints != nil && *in.StoryPoints <= 0 {
		return nil, validationf("story points must be positive")
	}
	status := in.Status
	if status == "" {
		status = models.StatusTodo
	}
	if !status.Valid() {
		return nil, validationf("unknown status %q", status)
	}
	if !in.Category.Valid() {
		return nil, validationf("unknown category %q", in.Category)
	}
	if err := s.resolveAssignee(ctx, in.Assignee); err != nil {
		return nil, s.wrap(err, "")
	}
	switch status {
	case models.StatusDone:
		return nil, newError(KindIllegalTransition, "", "a new task cannot start in %s", status)
	case models.StatusInProgress:
		if in.Assignee == nil {
			return nil, validationf("an in-progress task needs an assignee")
		}
	}

	task := &models.Task{
		ID:          uuid.NewString(),
		Title:       title,
		Description: in.Description,
		Status:      models.StatusTodo,
		StoryPoints: in.StoryPoints,
		AssignedTo:  in.Assignee,
		Category:    in.Category,
		CreatedBy:   in.CreatedBy,
	}
	if in.StoryPoints != nil {
		est, err := s.estimator.Predict(ctx, estimation.Request{
			StoryPoints: *in.StoryPoints,
			Assignee:    in.Assignee,
			Category:    in.Category,
		})
		if err != nil {
			return nil, s.wrap(err, "")
		}
		task.EstimatedHours = &est.EstimatedHours
		task.ConfidenceLevel = &est.ConfidenceLevel
	}
	ApplySideEffects(task, status, s.clock.Now())
	task.Status = status

	owner := ownerKey(in.Assignee)
	insert := func() error {
		return s.repo.Transaction(ctx, func(tx repository.TaskRepository) error {
			if err := tx.LockAssignees(ctx, []string{owner}); err != nil {
				return err
			}
			if status == models.StatusInProgress {
				if err := checkCapacity(ctx, tx, owner, task.ID); err != nil {
					return err
				}
				if err := CheckSequence(ctx, tx, task, owner, nil); err != nil {
					return err
				}
			}
			pos, err := ReconcilePosition(ctx, tx, task.AssignedTo, status, in.Position)
			if err != nil {
				return err
			}
			task.Position = pos
			return tx.Create(ctx, task)
		})
	}

	unlock := s.locks.Lock(owner)
	err := insert()
	if errors.Is(err, repository.ErrDuplicate) {
		log.Printf("create task %s: position conflict, retrying once", task.ID)
		err = insert()
		if errors.Is(err, repository.ErrDuplicate) {
			err = &Error{Kind: KindOrderConflict, TaskID: task.ID, Message: "position conflict persisted after retry", Err: err}
		}
	}
	unlock()
	if err != nil {
		return nil, s.wrap(err, task.ID)
	}

	s.publish(realtime.Event{
		Type:     realtime.EventTaskCreated,
		TaskID:   task.ID,
		Status:   string(task.Status),
		Assignee: owner,
		Actor:    in.CreatedBy,
	}, owner, in.CreatedBy)
	return task, nil
}

// ChangeStatus moves a task through the state table, optionally reassigning it in the
// same step. The task lands at the end of its new partition and the partition it left
// is compacted. Requests that change nothing return the task untouched.
func (s *Service) ChangeStatus(ctx context.Context, taskID string, req ChangeRequest) (*models.Task, error) {
	if !req.Status.Valid() {
		return nil, validationf("unknown status %q", req.Status)
	}
	current, err := s.repo.Get(ctx, taskID)
	if err != nil {
		return nil, s.wrap(err, taskID)
	}
	target := current.AssignedTo
	if req.Reassign {
		if err := s.resolveAssignee(ctx, req.Assignee); err != nil {
			return nil, s.wrap(err, taskID)
		}
		target = req.Assignee
	}

	owners := []string{current.AssigneeKey(), ownerKey(target)}
	var (
		task    *models.Task
		from    models.TaskStatus
		changed bool
	)
	unlock := s.locks.Lock(owners...)
	err = s.repo.Transaction(ctx, func(tx repository.TaskRepository) error {
		if err := tx.LockAssignees(ctx, owners); err != nil {
			return err
		}
		t, err := tx.Get(ctx, taskID)
		if err != nil {
			return err
		}
		if !models.SameAssignee(t.AssignedTo, current.AssignedTo) {
			return &Error{Kind: KindOrderConflict, TaskID: taskID, Message: "task was reassigned concurrently"}
		}
		task, from = t, t.Status
		changed, err = s.transition(ctx, tx, t, req.Status, target)
		return err
	})
	unlock()
	if err != nil {
		return nil, s.wrap(err, taskID)
	}
	if !changed {
		return task, nil
	}

	if from == models.StatusDone || task.Status == models.StatusDone {
		s.estimator.Invalidate()
	}
	evtType := realtime.EventTaskStatusChanged
	if from == task.Status {
		evtType = realtime.EventTaskReassigned
	}
	s.publish(realtime.Event{
		Type:     evtType,
		TaskID:   task.ID,
		Status:   string(task.Status),
		Assignee: task.AssigneeKey(),
	}, current.AssigneeKey(), task.AssigneeKey(), task.CreatedBy)
	return task, nil
}

// transition applies one status/assignee change to task inside tx. It reports false for no-ops.
func (s *Service) transition(ctx context.Context, tx repository.TaskRepository, task *models.Task, to models.TaskStatus, target *string) (bool, error) {
	from := task.Status
	reassigning := !models.SameAssignee(task.AssignedTo, target)
	if from == to && !reassigning {
		return false, nil
	}
	if err := ValidateTransition(from, to); err != nil {
		return false, err
	}
	if to == models.StatusInProgress {
		if target == nil {
			return false, validationf("an in-progress task needs an assignee")
		}
		if from != models.StatusInProgress || reassigning {
			if err := checkCapacity(ctx, tx, *target, task.ID); err != nil {
				return false, err
			}
		}
		if from == models.StatusTodo {
			if err := CheckSequence(ctx, tx, task, *target, nil); err != nil {
				return false, err
			}
		}
	}

	source, err := tx.Partition(ctx, task.AssignedTo, from)
	if err != nil {
		return false, err
	}
	now := s.clock.Now()
	needsEstimate := reassigning && target != nil && task.EstimatedHours == nil && task.StoryPoints != nil

	ApplySideEffects(task, to, now)
	if reassigning && from == models.StatusInProgress && to == models.StatusInProgress {
		at := now
		task.AssignedAt = &at
	}
	pos, err := NextPosition(ctx, tx, target, to)
	if err != nil {
		return false, err
	}
	task.AssignedTo = target
	task.Status = to
	task.Position = pos

	if needsEstimate {
		est, err := s.estimator.Bind(tx).Predict(ctx, estimation.Request{
			StoryPoints: *task.StoryPoints,
			Assignee:    target,
			Category:    task.Category,
		})
		if err != nil {
			return false, err
		}
		task.EstimatedHours = &est.EstimatedHours
		task.ConfidenceLevel = &est.ConfidenceLevel
	}

	placed := append([]*models.Task{task}, compact(source, task.ID)...)
	return true, tx.Place(ctx, placed)
}

// Reorder applies a batch of (task, advisory position, status) moves atomically. Every
// affected partition ends dense, ordered by the caller's relative order (ties by input
// order); members not named in the batch keep their current relative order.
func (s *Service) Reorder(ctx context.Context, items []ReorderItem) error {
	if len(items) == 0 {
		return validationf("reorder needs at least one item")
	}
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		if it.TaskID == "" {
			return validationf("reorder item without task id")
		}
		if seen[it.TaskID] {
			return validationf("task %s appears twice in one reorder", it.TaskID)
		}
		seen[it.TaskID] = true
		if !it.Status.Valid() {
			return validationf("unknown status %q", it.Status)
		}
		if it.Position < 0 {
			return validationf("position must not be negative")
		}
	}

	before := make(map[string]*string, len(items))
	owners := make([]string, 0, len(items))
	for _, it := range items {
		t, err := s.repo.Get(ctx, it.TaskID)
		if err != nil {
			return s.wrap(err, it.TaskID)
		}
		before[t.ID] = t.AssignedTo
		owners = append(owners, t.AssigneeKey())
	}

	var touchedDone bool
	unlock := s.locks.Lock(owners...)
	err := s.repo.Transaction(ctx, func(tx repository.TaskRepository) error {
		if err := tx.LockAssignees(ctx, owners); err != nil {
			return err
		}
		tasks := make([]*models.Task, len(items))
		for i, it := range items {
			t, err := tx.Get(ctx, it.TaskID)
			if err != nil {
				return s.wrap(err, it.TaskID)
			}
			if !models.SameAssignee(t.AssignedTo, before[t.ID]) {
				return &Error{Kind: KindOrderConflict, TaskID: t.ID, Message: "task was reassigned concurrently"}
			}
			if t.Status != it.Status && (t.Status == models.StatusDone || it.Status == models.StatusDone) {
				touchedDone = true
			}
			tasks[i] = t
		}
		placed, err := s.planReorder(ctx, tx, items, tasks)
		if err != nil {
			return err
		}
		return tx.Place(ctx, placed)
	})
	unlock()
	if err != nil {
		return s.wrap(err, "")
	}

	if touchedDone {
		s.estimator.Invalidate()
	}
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.TaskID)
	}
	s.publish(realtime.Event{Type: realtime.EventTasksReordered, TaskIDs: ids}, owners...)
	return nil
}

func (s *Service) planReorder(ctx context.Context, tx repository.TaskRepository, items []ReorderItem, tasks []*models.Task) ([]*models.Task, error) {
	inBatch := make(map[string]bool, len(items))
	leavingTodo := make(map[string]bool)
	for i, it := range items {
		inBatch[it.TaskID] = true
		if tasks[i].Status == models.StatusTodo && it.Status != models.StatusTodo {
			leavingTodo[it.TaskID] = true
		}
	}

	// edge table, sequencing and the post-batch WIP count per assignee
	wipDelta := make(map[string]int)
	for i, it := range items {
		t := tasks[i]
		from, to := t.Status, it.Status
		if err := ValidateTransition(from, to); err != nil {
			return nil, s.wrap(err, t.ID)
		}
		if from == to {
			continue
		}
		if to == models.StatusInProgress {
			if t.AssignedTo == nil {
				return nil, validationf("task %s needs an assignee before it can start", t.ID)
			}
			if from == models.StatusTodo {
				if err := CheckSequence(ctx, tx, t, *t.AssignedTo, leavingTodo); err != nil {
					return nil, err
				}
			}
			wipDelta[*t.AssignedTo]++
		}
		if from == models.StatusInProgress && t.AssignedTo != nil {
			wipDelta[*t.AssignedTo]--
		}
	}
	assignees := make([]string, 0, len(wipDelta))
	for a := range wipDelta {
		assignees = append(assignees, a)
	}
	sort.Strings(assignees)
	for _, a := range assignees {
		if wipDelta[a] <= 0 {
			continue
		}
		n, err := tx.CountInStatus(ctx, a, models.StatusInProgress)
		if err != nil {
			return nil, err
		}
		if int(n)+wipDelta[a] > WIPLimit {
			return nil, newError(KindCapacityExceeded, "", "reorder would give %s more than %d tasks in progress", a, WIPLimit)
		}
	}

	now := s.clock.Now()
	var keys []partitionKey
	slots := make(map[partitionKey][]slot)
	touch := func(k partitionKey) {
		if _, ok := slots[k]; !ok {
			slots[k] = nil
			keys = append(keys, k)
		}
	}
	for i, it := range items {
		t := tasks[i]
		if t.Status != it.Status {
			touch(keyOf(t.AssignedTo, t.Status))
			ApplySideEffects(t, it.Status, now)
			t.Status = it.Status
		}
		k := keyOf(t.AssignedTo, it.Status)
		touch(k)
		slots[k] = append(slots[k], slot{task: t, advisory: it.Position, index: i})
	}

	var placed []*models.Task
	for _, k := range keys {
		members, err := tx.Partition(ctx, k.assigneeRef(), k.status)
		if err != nil {
			return nil, err
		}
		original := make(map[string]int, len(members))
		for j := range members {
			m := &members[j]
			if inBatch[m.ID] {
				continue
			}
			original[m.ID] = m.Position
			slots[k] = append(slots[k], slot{task: m, advisory: m.Position, rank: 1, index: j})
		}
		for _, t := range planPartition(slots[k]) {
			if pos, untouched := original[t.ID]; untouched && pos == t.Position {
				continue
			}
			placed = append(placed, t)
		}
	}
	return placed, nil
}

// UpdateDetails edits title, description, story points or category. Lifecycle
// fields and the stored estimate are left alone.
func (s *Service) UpdateDetails(ctx context.Context, taskID string, in DetailsInput) (*models.Task, error) {
	if in.Title != nil && strings.TrimSpace(*in.Title) == "" {
		return nil, validationf("title must not be blank")
	}
	if in.StoryPoints != nil && *in.StoryPoints <= 0 {
		return nil, validationf("story points must be positive")
	}
	if in.Category != nil && !in.Category.Valid() {
		return nil, validationf("unknown category %q", *in.Category)
	}
	current, err := s.repo.Get(ctx, taskID)
	if err != nil {
		return nil, s.wrap(err, taskID)
	}

	var task *models.Task
	unlock := s.locks.Lock(current.AssigneeKey())
	err = s.repo.Transaction(ctx, func(tx repository.TaskRepository) error {
		t, err := tx.Get(ctx, taskID)
		if err != nil {
			return err
		}
		if in.Title != nil {
			t.Title = strings.TrimSpace(*in.Title)
		}
		if in.Description != nil {
			t.Description = *in.Description
		}
		if in.StoryPoints != nil {
			t.StoryPoints = in.StoryPoints
		}
		if in.Category != nil {
			t.Category = *in.Category
		}
		task = t
		return tx.Save(ctx, t)
	})
	unlock()
	if err != nil {
		return nil, s.wrap(err, taskID)
	}

	if task.Status == models.StatusDone {
		s.estimator.Invalidate()
	}
	s.publish(realtime.Event{Type: realtime.EventTaskUpdated, TaskID: task.ID}, task.AssigneeKey(), task.CreatedBy)
	return task, nil
}

// DeleteTask removes a task and closes the gap it leaves in its partition.
func (s *Service) DeleteTask(ctx context.Context, taskID string) error {
	current, err := s.repo.Get(ctx, taskID)
	if err != nil {
		return s.wrap(err, taskID)
	}

	owner := current.AssigneeKey()
	unlock := s.locks.Lock(owner)
	err = s.repo.Transaction(ctx, func(tx repository.TaskRepository) error {
		if err := tx.LockAssignees(ctx, []string{owner}); err != nil {
			return err
		}
		t, err := tx.Get(ctx, taskID)
		if err != nil {
			return err
		}
		if !models.SameAssignee(t.AssignedTo, current.AssignedTo) {
			return &Error{Kind: KindOrderConflict, TaskID: taskID, Message: "task was reassigned concurrently"}
		}
		if err := tx.Delete(ctx, taskID); err != nil {
			return err
		}
		return Normalize(ctx, tx, t.AssignedTo, t.Status)
	})
	unlock()
	if err != nil {
		return s.wrap(err, taskID)
	}

	if current.Status == models.StatusDone {
		s.estimator.Invalidate()
	}
	s.publish(realtime.Event{Type: realtime.EventTaskDeleted, TaskID: taskID}, owner, current.CreatedBy)
	return nil
}

// GetTask returns one task.
func (s *Service) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	t, err := s.repo.Get(ctx, taskID)
	if err != nil {
		return nil, s.wrap(err, taskID)
	}
	return t, nil
}

// ListTasks returns one page of tasks and the total matching the filter.
func (s *Service) ListTasks(ctx context.Context, filter repository.TaskFilter) ([]models.Task, int64, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, validationf("unknown status %q", filter.Status)
	}
	return s.repo.List(ctx, filter)
}

// Stats counts an assignee's tasks per status and reports free WIP slots.
func (s *Service) Stats(ctx context.Context, assignee string) (Stats, error) {
	counts, err := s.repo.StatusCounts(ctx, assignee)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{
		Todo:       counts[models.StatusTodo],
		InProgress: counts[models.StatusInProgress],
		Done:       counts[models.StatusDone],
		WIPLimit:   WIPLimit,
	}
	st.Total = st.Todo + st.InProgress + st.Done
	if free := WIPLimit - int(st.InProgress); free > 0 {
		st.WIPAvailable = free
	}
	return st, nil
}

// Predict is the read-only estimate for a task of the given size.
func (s *Service) Predict(ctx context.Context, storyPoints int, assignee *string, category models.TaskCategory) (estimation.Result, error) {
	if !category.Valid() {
		return estimation.Result{}, validationf("unknown category %q", category)
	}
	res, err := s.estimator.Predict(ctx, estimation.Request{StoryPoints: storyPoints, Assignee: assignee, Category: category})
	return res, s.wrap(err, "")
}

// Velocity reports completed points per week over the trailing window.
func (s *Service) Velocity(ctx context.Context, weeks int, assignee *string) (estimation.Velocity, error) {
	v, err := s.estimator.Velocity(ctx, weeks, assignee)
	return v, s.wrap(err, "")
}

// HoursPerPoint reports the raw historical ratio without the complexity multiplier.
func (s *Service) HoursPerPoint(ctx context.Context, assignee *string) (estimation.Ratio, error) {
	r, err := s.estimator.HoursPerPoint(ctx, assignee)
	return r, s.wrap(err, "")
}
