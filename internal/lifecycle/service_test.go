package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"task-lifecycle-api/internal/cache"
	"task-lifecycle-api/internal/estimation"
	"task-lifecycle-api/internal/models"
	"task-lifecycle-api/internal/realtime"
	"task-lifecycle-api/internal/repository"
	"task-lifecycle-api/internal/testutil"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type captured struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (c *captured) Publish(evt realtime.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *captured) last() realtime.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events[len(c.events)-1]
}

type fixture struct {
	svc    *Service
	db     *gorm.DB
	clock  *testutil.Clock
	events *captured
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := testutil.NewInMemoryDB()
	require.NoError(t, err)
	require.NoError(t, testutil.SeedUsers(db, "alice", "bob", "carol"))

	store := repository.NewGormStore(db)
	clock := testutil.NewClock(time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC))
	est := estimation.New(store, cache.NewTTLCache[string, estimation.Summary](cache.Options{TTL: time.Hour}), clock.Now)
	events := &captured{}
	svc := NewService(store, store, est, WithClock(clock), WithPublisher(events))
	return &fixture{svc: svc, db: db, clock: clock, events: events}
}

func (f *fixture) create(t *testing.T, title, assignee string) *models.Task {
	t.Helper()
	in := CreateInput{Title: title, CreatedBy: "alice"}
	if assignee != "" {
		in.Assignee = testutil.Ptr(assignee)
	}
	task, err := f.svc.CreateTask(context.Background(), in)
	require.NoError(t, err)
	return task
}

func (f *fixture) move(t *testing.T, id string, to models.TaskStatus) *models.Task {
	t.Helper()
	task, err := f.svc.ChangeStatus(context.Background(), id, ChangeRequest{Status: to})
	require.NoError(t, err)
	return task
}

func (f *fixture) reload(t *testing.T, id string) *models.Task {
	t.Helper()
	var task models.Task
	require.NoError(t, f.db.Where("id = ?", id).First(&task).Error)
	return &task
}

// partitionIDs returns the ids of a partition in position order and asserts it is dense.
func (f *fixture) partitionIDs(t *testing.T, assignee *string, status models.TaskStatus) []string {
	t.Helper()
	var tasks []models.Task
	q := f.db.Where("status = ?", status)
	if assignee == nil {
		q = q.Where("assigned_to IS NULL")
	} else {
		q = q.Where("assigned_to = ?", *assignee)
	}
	require.NoError(t, q.Order("position asc").Find(&tasks).Error)
	ids := make([]string, 0, len(tasks))
	for i, task := range tasks {
		require.Equal(t, i, task.Position, "partition %v/%s not dense", assignee, status)
		ids = append(ids, task.ID)
	}
	return ids
}

func TestCreateTask_PositionsAreAdvisory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.create(t, "a", "alice")
	b := f.create(t, "b", "alice")
	require.Equal(t, 0, a.Position)
	require.Equal(t, 1, b.Position)

	far, err := f.svc.CreateTask(ctx, CreateInput{Title: "far", Assignee: testutil.Ptr("alice"), Position: testutil.Ptr(10)})
	require.NoError(t, err)
	require.Equal(t, 10, far.Position)

	clash, err := f.svc.CreateTask(ctx, CreateInput{Title: "clash", Assignee: testutil.Ptr("alice"), Position: testutil.Ptr(1)})
	require.NoError(t, err)
	require.Equal(t, 11, clash.Position)

	tail, err := f.svc.CreateTask(ctx, CreateInput{Title: "tail", Assignee: testutil.Ptr("alice"), Position: testutil.Ptr(11)})
	require.NoError(t, err)
	require.Equal(t, 12, tail.Position)

	loose := f.create(t, "loose", "")
	require.Equal(t, 0, loose.Position)

	store := repository.NewGormStore(f.db)
	require.NoError(t, Normalize(ctx, store, testutil.Ptr("alice"), models.StatusTodo))
	require.Equal(t, []string{a.ID, b.ID, far.ID, clash.ID, tail.ID}, f.partitionIDs(t, testutil.Ptr("alice"), models.StatusTodo))
}

func TestCreateTask_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   CreateInput
		want error
	}{
		{"blank title", CreateInput{Title: "  "}, ErrValidation},
		{"zero points", CreateInput{Title: "x", StoryPoints: testutil.Ptr(0)}, ErrValidation},
		{"unknown status", CreateInput{Title: "x", Status: "blocked"}, ErrValidation},
		{"unknown category", CreateInput{Title: "x", Category: "epic"}, ErrValidation},
		{"unknown assignee", CreateInput{Title: "x", Assignee: testutil.Ptr("mallory")}, ErrValidation},
		{"unassigned in progress", CreateInput{Title: "x", Status: models.StatusInProgress}, ErrValidation},
		{"born done", CreateInput{Title: "x", Status: models.StatusDone, Assignee: testutil.Ptr("alice")}, ErrIllegalTransition},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.CreateTask(ctx, tc.in)
			require.ErrorIs(t, err, tc.want)
		})
	}

	var count int64
	require.NoError(t, f.db.Model(&models.Task{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestCreateTask_WritesEstimateOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task, err := f.svc.CreateTask(ctx, CreateInput{Title: "sized", StoryPoints: testutil.Ptr(5), Assignee: testutil.Ptr("alice")})
	require.NoError(t, err)
	require.NotNil(t, task.EstimatedHours)
	require.Equal(t, 20.0, *task.EstimatedHours)
	require.Equal(t, 0.3, *task.ConfidenceLevel)

	updated, err := f.svc.UpdateDetails(ctx, task.ID, DetailsInput{StoryPoints: testutil.Ptr(13)})
	require.NoError(t, err)
	require.Equal(t, 13, *updated.StoryPoints)
	require.Equal(t, 20.0, *updated.EstimatedHours)

	unsized := f.create(t, "later", "")
	require.Nil(t, unsized.EstimatedHours)
	_, err = f.svc.UpdateDetails(ctx, unsized.ID, DetailsInput{StoryPoints: testutil.Ptr(2)})
	require.NoError(t, err)
	assigned, err := f.svc.ChangeStatus(ctx, unsized.ID, ChangeRequest{Status: models.StatusTodo, Assignee: testutil.Ptr("bob"), Reassign: true})
	require.NoError(t, err)
	require.NotNil(t, assigned.EstimatedHours)
	require.Equal(t, 8.0, *assigned.EstimatedHours)
}

func TestCreateTask_DirectlyInProgressRespectsWIP(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := CreateInput{Title: "hot", Status: models.StatusInProgress, Assignee: testutil.Ptr("alice")}

	first, err := f.svc.CreateTask(ctx, in)
	require.NoError(t, err)
	require.NotNil(t, first.AssignedAt)
	_, err = f.svc.CreateTask(ctx, in)
	require.NoError(t, err)

	_, err = f.svc.CreateTask(ctx, in)
	require.ErrorIs(t, err, ErrCapacityExceeded)

	var count int64
	require.NoError(t, f.db.Model(&models.Task{}).Where("assigned_to = ?", "alice").Count(&count).Error)
	require.Equal(t, int64(2), count)
}

func TestCreateTask_HugeAdvisoryPositionIsReplaced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := testutil.Ptr("alice")

	big, err := f.svc.CreateTask(ctx, CreateInput{Title: "big", Assignee: alice, Position: testutil.Ptr(math.MaxInt)})
	require.NoError(t, err)
	require.Equal(t, 0, big.Position)

	next, err := f.svc.CreateTask(ctx, CreateInput{Title: "next", Assignee: alice})
	require.NoError(t, err)
	require.Equal(t, 1, next.Position)
	require.Equal(t, []string{big.ID, next.ID}, f.partitionIDs(t, alice, models.StatusTodo))
}

func TestCreateTask_InProgressBehindBacklog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	queued := f.create(t, "queued", "alice")

	in := CreateInput{Title: "jump", Status: models.StatusInProgress, Assignee: testutil.Ptr("alice")}
	_, err := f.svc.CreateTask(ctx, in)
	require.ErrorIs(t, err, ErrOutOfSequence)
	require.Empty(t, f.partitionIDs(t, testutil.Ptr("alice"), models.StatusInProgress))

	// another assignee's backlog does not count
	_, err = f.svc.CreateTask(ctx, CreateInput{Title: "fine", Status: models.StatusInProgress, Assignee: testutil.Ptr("bob")})
	require.NoError(t, err)

	f.move(t, queued.ID, models.StatusInProgress)
	started, err := f.svc.CreateTask(ctx, in)
	require.NoError(t, err)
	require.Equal(t, models.StatusInProgress, started.Status)
}

// duplicatingStore fails the first failures inserts with ErrDuplicate, as a concurrent
// writer taking the same partition slot would.
type duplicatingStore struct {
	repository.TaskRepository
	failures int
	attempts *int
}

func (d duplicatingStore) Create(ctx context.Context, task *models.Task) error {
	*d.attempts++
	if *d.attempts <= d.failures {
		return fmt.Errorf("insert task: %w", repository.ErrDuplicate)
	}
	return d.TaskRepository.Create(ctx, task)
}

func (d duplicatingStore) Transaction(ctx context.Context, fn func(repo repository.TaskRepository) error) error {
	return d.TaskRepository.Transaction(ctx, func(tx repository.TaskRepository) error {
		return fn(duplicatingStore{TaskRepository: tx, failures: d.failures, attempts: d.attempts})
	})
}

func TestCreateTask_PositionConflictRetry(t *testing.T) {
	cases := []struct {
		name     string
		failures int
		wantErr  bool
	}{
		{"first attempt wins", 0, false},
		{"retry succeeds", 1, false},
		{"retry also conflicts", 2, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			store := repository.NewGormStore(f.db)
			attempts := 0
			repo := duplicatingStore{TaskRepository: store, failures: tc.failures, attempts: &attempts}
			est := estimation.New(store, nil, f.clock.Now)
			svc := NewService(repo, store, est, WithClock(f.clock))

			task, err := svc.CreateTask(context.Background(), CreateInput{Title: "contended", Assignee: testutil.Ptr("alice")})
			if tc.wantErr {
				require.Error(t, err)
				require.True(t, errors.Is(err, ErrOrderConflict), err.Error())
				require.True(t, errors.Is(err, repository.ErrDuplicate))
				require.Equal(t, 2, attempts)
				require.Empty(t, f.partitionIDs(t, testutil.Ptr("alice"), models.StatusTodo))
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.failures+1, attempts)
			require.Equal(t, []string{task.ID}, f.partitionIDs(t, testutil.Ptr("alice"), models.StatusTodo))
		})
	}
}

func TestChangeStatus_OutOfSequence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.create(t, "first", "alice")
	second := f.create(t, "second", "alice")
	other := f.create(t, "bobs", "bob")

	_, err := f.svc.ChangeStatus(ctx, second.ID, ChangeRequest{Status: models.StatusInProgress})
	require.ErrorIs(t, err, ErrOutOfSequence)
	require.Equal(t, models.StatusTodo, f.reload(t, second.ID).Status)

	// other assignees' backlogs are not consulted
	f.move(t, other.ID, models.StatusInProgress)

	f.move(t, first.ID, models.StatusInProgress)
	started := f.move(t, second.ID, models.StatusInProgress)
	require.Equal(t, models.StatusInProgress, started.Status)
	require.Equal(t, []string{first.ID, second.ID}, f.partitionIDs(t, testutil.Ptr("alice"), models.StatusInProgress))
}

func TestChangeStatus_SequenceClearsWhenEarlierTaskDone(t *testing.T) {
	f := newFixture(t)
	first := f.create(t, "first", "alice")
	second := f.create(t, "second", "alice")

	f.move(t, first.ID, models.StatusInProgress)
	f.move(t, first.ID, models.StatusDone)
	f.move(t, second.ID, models.StatusInProgress)
	require.Empty(t, f.partitionIDs(t, testutil.Ptr("alice"), models.StatusTodo))
}

func TestChangeStatus_CapacityExceeded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	t0 := f.create(t, "t0", "alice")
	t1 := f.create(t, "t1", "alice")
	t2 := f.create(t, "t2", "alice")

	f.move(t, t0.ID, models.StatusInProgress)
	f.move(t, t1.ID, models.StatusInProgress)

	_, err := f.svc.ChangeStatus(ctx, t2.ID, ChangeRequest{Status: models.StatusInProgress})
	require.ErrorIs(t, err, ErrCapacityExceeded)
	require.Equal(t, models.StatusTodo, f.reload(t, t2.ID).Status)

	f.move(t, t0.ID, models.StatusDone)
	f.move(t, t2.ID, models.StatusInProgress)

	st, err := f.svc.Stats(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, int64(2), st.InProgress)
	require.Equal(t, int64(1), st.Done)
	require.Equal(t, 0, st.WIPAvailable)
}

func TestChangeStatus_ConcurrentRaceForLastSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	busy := f.create(t, "busy", "alice")
	f.move(t, busy.ID, models.StatusInProgress)

	x := f.create(t, "x", "bob")
	y := f.create(t, "y", "carol")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []string{x.ID, y.ID} {
		i, id := i, id
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.svc.ChangeStatus(ctx, id, ChangeRequest{
				Status:   models.StatusInProgress,
				Assignee: testutil.Ptr("alice"),
				Reassign: true,
			})
		}()
	}
	wg.Wait()

	var ok, rejected int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		require.ErrorIs(t, err, ErrCapacityExceeded)
		rejected++
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 1, rejected)
	require.Len(t, f.partitionIDs(t, testutil.Ptr("alice"), models.StatusInProgress), 2)
}

func TestChangeStatus_TimestampsAndEdges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, "task", "alice")

	_, err := f.svc.ChangeStatus(ctx, task.ID, ChangeRequest{Status: models.StatusDone})
	require.ErrorIs(t, err, ErrIllegalTransition)

	started := f.move(t, task.ID, models.StatusInProgress)
	require.NotNil(t, started.AssignedAt)
	require.Nil(t, started.CompletedAt)
	startedAt := *started.AssignedAt

	f.clock.Advance(6 * time.Hour)
	done := f.move(t, task.ID, models.StatusDone)
	require.NotNil(t, done.CompletedAt)
	require.Equal(t, startedAt, *done.AssignedAt)
	require.Equal(t, 6*time.Hour, done.CompletedAt.Sub(*done.AssignedAt))

	_, err = f.svc.ChangeStatus(ctx, task.ID, ChangeRequest{Status: models.StatusInProgress})
	require.ErrorIs(t, err, ErrIllegalTransition)

	reopened := f.move(t, task.ID, models.StatusTodo)
	require.Nil(t, reopened.AssignedAt)
	require.Nil(t, reopened.CompletedAt)

	stored := f.reload(t, task.ID)
	require.Nil(t, stored.AssignedAt)
	require.Nil(t, stored.CompletedAt)
}

func TestChangeStatus_InProgressBackToTodo(t *testing.T) {
	f := newFixture(t)
	task := f.create(t, "task", "alice")
	f.move(t, task.ID, models.StatusInProgress)

	back := f.move(t, task.ID, models.StatusTodo)
	require.Nil(t, back.AssignedAt)
	require.Nil(t, back.CompletedAt)
	require.Equal(t, []string{task.ID}, f.partitionIDs(t, testutil.Ptr("alice"), models.StatusTodo))
}

func TestChangeStatus_NoOp(t *testing.T) {
	f := newFixture(t)
	task := f.create(t, "task", "alice")
	n := len(f.events.events)

	same := f.move(t, task.ID, models.StatusTodo)
	require.Equal(t, task.Position, same.Position)
	require.Len(t, f.events.events, n)
}

func TestChangeStatus_Reassignment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a0 := f.create(t, "a0", "alice")
	a1 := f.create(t, "a1", "alice")
	b0 := f.create(t, "b0", "bob")

	moved, err := f.svc.ChangeStatus(ctx, a0.ID, ChangeRequest{Status: models.StatusTodo, Assignee: testutil.Ptr("bob"), Reassign: true})
	require.NoError(t, err)
	require.Equal(t, "bob", *moved.AssignedTo)
	require.Equal(t, []string{b0.ID, a0.ID}, f.partitionIDs(t, testutil.Ptr("bob"), models.StatusTodo))
	require.Equal(t, []string{a1.ID}, f.partitionIDs(t, testutil.Ptr("alice"), models.StatusTodo))
	require.Equal(t, realtime.EventTaskReassigned, f.events.last().Type)
	require.Contains(t, f.events.last().Recipients, "alice")
	require.Contains(t, f.events.last().Recipients, "bob")

	// a task handed over while someone else's backlog is pending queues behind it
	_, err = f.svc.ChangeStatus(ctx, a1.ID, ChangeRequest{Status: models.StatusInProgress, Assignee: testutil.Ptr("bob"), Reassign: true})
	require.ErrorIs(t, err, ErrOutOfSequence)

	f.move(t, a1.ID, models.StatusInProgress)
	_, err = f.svc.ChangeStatus(ctx, a1.ID, ChangeRequest{Status: models.StatusInProgress, Reassign: true})
	require.ErrorIs(t, err, ErrValidation)

	f.clock.Advance(time.Hour)
	handed, err := f.svc.ChangeStatus(ctx, a1.ID, ChangeRequest{Status: models.StatusInProgress, Assignee: testutil.Ptr("carol"), Reassign: true})
	require.NoError(t, err)
	require.Equal(t, f.clock.Now(), *handed.AssignedAt)

	_, err = f.svc.ChangeStatus(ctx, a1.ID, ChangeRequest{Status: models.StatusInProgress, Assignee: testutil.Ptr("ghost"), Reassign: true})
	require.ErrorIs(t, err, ErrValidation)
}

func TestChangeStatus_ReassignIntoFullWIP(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		task := f.create(t, fmt.Sprintf("b%d", i), "bob")
		f.move(t, task.ID, models.StatusInProgress)
	}
	mine := f.create(t, "mine", "alice")
	f.move(t, mine.ID, models.StatusInProgress)

	_, err := f.svc.ChangeStatus(ctx, mine.ID, ChangeRequest{Status: models.StatusInProgress, Assignee: testutil.Ptr("bob"), Reassign: true})
	require.ErrorIs(t, err, ErrCapacityExceeded)
	require.Equal(t, "alice", *f.reload(t, mine.ID).AssignedTo)
}

func TestChangeStatus_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ChangeStatus(context.Background(), "missing", ChangeRequest{Status: models.StatusDone})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestReorder_GaplessPreservingCallerOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, "a", "alice")
	b := f.create(t, "b", "alice")
	c := f.create(t, "c", "alice")

	err := f.svc.Reorder(ctx, []ReorderItem{
		{TaskID: a.ID, Position: 5, Status: models.StatusTodo},
		{TaskID: b.ID, Position: 5, Status: models.StatusTodo},
		{TaskID: c.ID, Position: 9, Status: models.StatusTodo},
	})
	require.NoError(t, err)
	require.Equal(t, []string{a.ID, b.ID, c.ID}, f.partitionIDs(t, testutil.Ptr("alice"), models.StatusTodo))

	err = f.svc.Reorder(ctx, []ReorderItem{
		{TaskID: c.ID, Position: 5, Status: models.StatusTodo},
		{TaskID: b.ID, Position: 5, Status: models.StatusTodo},
		{TaskID: a.ID, Position: 9, Status: models.StatusTodo},
	})
	require.NoError(t, err)
	require.Equal(t, []string{c.ID, b.ID, a.ID}, f.partitionIDs(t, testutil.Ptr("alice"), models.StatusTodo))
	require.Equal(t, realtime.EventTasksReordered, f.events.last().Type)
}

func TestReorder_MergesUntouchedMembers(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, "a", "alice")
	b := f.create(t, "b", "alice")
	c := f.create(t, "c", "alice")
	d := f.create(t, "d", "alice")

	err := f.svc.Reorder(context.Background(), []ReorderItem{{TaskID: d.ID, Position: 0, Status: models.StatusTodo}})
	require.NoError(t, err)
	require.Equal(t, []string{d.ID, a.ID, b.ID, c.ID}, f.partitionIDs(t, testutil.Ptr("alice"), models.StatusTodo))
}

func TestReorder_AcrossColumns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, "a", "alice")
	b := f.create(t, "b", "alice")
	c := f.create(t, "c", "alice")

	err := f.svc.Reorder(ctx, []ReorderItem{{TaskID: a.ID, Position: 3, Status: models.StatusInProgress}})
	require.NoError(t, err)
	require.Equal(t, []string{a.ID}, f.partitionIDs(t, testutil.Ptr("alice"), models.StatusInProgress))
	require.Equal(t, []string{b.ID, c.ID}, f.partitionIDs(t, testutil.Ptr("alice"), models.StatusTodo))
	require.NotNil(t, f.reload(t, a.ID).AssignedAt)

	// c is behind b in the backlog
	err = f.svc.Reorder(ctx, []ReorderItem{{TaskID: c.ID, Position: 0, Status: models.StatusInProgress}})
	require.ErrorIs(t, err, ErrOutOfSequence)

	// moving both at once would exceed the limit
	err = f.svc.Reorder(ctx, []ReorderItem{
		{TaskID: b.ID, Position: 0, Status: models.StatusInProgress},
		{TaskID: c.ID, Position: 1, Status: models.StatusInProgress},
	})
	require.ErrorIs(t, err, ErrCapacityExceeded)
	require.Equal(t, []string{b.ID, c.ID}, f.partitionIDs(t, testutil.Ptr("alice"), models.StatusTodo))

	// finishing a frees the slot in the same batch
	err = f.svc.Reorder(ctx, []ReorderItem{
		{TaskID: a.ID, Position: 0, Status: models.StatusDone},
		{TaskID: b.ID, Position: 0, Status: models.StatusInProgress},
		{TaskID: c.ID, Position: 1, Status: models.StatusInProgress},
	})
	require.NoError(t, err)
	require.Equal(t, []string{b.ID, c.ID}, f.partitionIDs(t, testutil.Ptr("alice"), models.StatusInProgress))
	require.NotNil(t, f.reload(t, a.ID).CompletedAt)
}

func TestReorder_RejectsWithoutWriting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, "a", "alice")
	b := f.create(t, "b", "alice")

	err := f.svc.Reorder(ctx, []ReorderItem{
		{TaskID: b.ID, Position: 0, Status: models.StatusTodo},
		{TaskID: a.ID, Position: 0, Status: models.StatusDone},
	})
	require.ErrorIs(t, err, ErrIllegalTransition)
	require.Equal(t, []string{a.ID, b.ID}, f.partitionIDs(t, testutil.Ptr("alice"), models.StatusTodo))

	require.ErrorIs(t, f.svc.Reorder(ctx, nil), ErrValidation)
	require.ErrorIs(t, f.svc.Reorder(ctx, []ReorderItem{
		{TaskID: a.ID, Status: models.StatusTodo},
		{TaskID: a.ID, Status: models.StatusTodo},
	}), ErrValidation)
	require.ErrorIs(t, f.svc.Reorder(ctx, []ReorderItem{{TaskID: "nope", Status: models.StatusTodo}}), ErrNotFound)
}

func TestDeleteTask_ClosesGap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, "a", "alice")
	b := f.create(t, "b", "alice")
	c := f.create(t, "c", "alice")

	require.NoError(t, f.svc.DeleteTask(ctx, b.ID))
	require.Equal(t, []string{a.ID, c.ID}, f.partitionIDs(t, testutil.Ptr("alice"), models.StatusTodo))
	require.ErrorIs(t, f.svc.DeleteTask(ctx, b.ID), ErrNotFound)
}

func TestPredict_EmptyHistoryAndInvalidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Predict(ctx, 5, nil, "")
	require.NoError(t, err)
	require.Equal(t, 20.0, res.EstimatedHours)
	require.Equal(t, 0.3, res.ConfidenceLevel)

	for i, hours := range []time.Duration{8, 12, 20} {
		task, err := f.svc.CreateTask(ctx, CreateInput{Title: fmt.Sprintf("t%d", i), StoryPoints: testutil.Ptr(int(hours / 4)), Assignee: testutil.Ptr("alice")})
		require.NoError(t, err)
		f.move(t, task.ID, models.StatusInProgress)
		f.clock.Advance(hours * time.Hour)
		f.move(t, task.ID, models.StatusDone)
	}

	res, err = f.svc.Predict(ctx, 5, nil, "")
	require.NoError(t, err)
	require.Equal(t, 3, res.SampleSize)
	require.Equal(t, 20.0, res.EstimatedHours)
	require.Equal(t, 0.5, res.ConfidenceLevel)

	v, err := f.svc.Velocity(ctx, 1, testutil.Ptr("alice"))
	require.NoError(t, err)
	require.Equal(t, 10, v.TotalPoints)

	_, err = f.svc.Predict(ctx, 0, nil, "")
	require.ErrorIs(t, err, ErrValidation)
	_, err = f.svc.Velocity(ctx, -1, nil)
	require.ErrorIs(t, err, ErrValidation)
}

func TestInvariants_RandomOperations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))
	assignees := []string{"alice", "bob", ""}
	statuses := []models.TaskStatus{models.StatusTodo, models.StatusInProgress, models.StatusDone}
	var ids []string

	for step := 0; step < 150; step++ {
		var err error
		switch op := rng.Intn(4); {
		case op == 0 || len(ids) < 3:
			in := CreateInput{Title: fmt.Sprintf("t%d", step)}
			if a := assignees[rng.Intn(len(assignees))]; a != "" {
				in.Assignee = testutil.Ptr(a)
			}
			if rng.Intn(3) == 0 {
				in.Position = testutil.Ptr(rng.Intn(6))
			}
			var task *models.Task
			task, err = f.svc.CreateTask(ctx, in)
			if err == nil {
				ids = append(ids, task.ID)
			}
		case op == 1:
			id := ids[rng.Intn(len(ids))]
			_, err = f.svc.ChangeStatus(ctx, id, ChangeRequest{Status: statuses[rng.Intn(len(statuses))]})
		case op == 2:
			id := ids[rng.Intn(len(ids))]
			req := ChangeRequest{Status: statuses[rng.Intn(len(statuses))], Reassign: true}
			if a := assignees[rng.Intn(len(assignees))]; a != "" {
				req.Assignee = testutil.Ptr(a)
			}
			_, err = f.svc.ChangeStatus(ctx, id, req)
		default:
			perm := rng.Perm(len(ids))
			n := 1 + rng.Intn(3)
			if n > len(perm) {
				n = len(perm)
			}
			var items []ReorderItem
			for _, p := range perm[:n] {
				items = append(items, ReorderItem{TaskID: ids[p], Position: rng.Intn(5), Status: statuses[rng.Intn(len(statuses))]})
			}
			err = f.svc.Reorder(ctx, items)
		}
		if err != nil {
			var le *Error
			require.ErrorAs(t, err, &le, "step %d", step)
			require.NotEqual(t, KindOrderConflict, le.Kind)
		}
		f.clock.Advance(time.Minute)
	}

	var tasks []models.Task
	require.NoError(t, f.db.Find(&tasks).Error)
	seen := map[string]bool{}
	inProgress := map[string]int{}
	for _, task := range tasks {
		key := fmt.Sprintf("%s/%s/%d", task.AssigneeKey(), task.Status, task.Position)
		require.False(t, seen[key], "duplicate position %s", key)
		seen[key] = true
		require.GreaterOrEqual(t, task.Position, 0)

		require.Equal(t, task.Status == models.StatusDone, task.CompletedAt != nil, "task %s", task.ID)
		if task.Status == models.StatusInProgress {
			require.NotNil(t, task.AssignedTo)
			require.NotNil(t, task.AssignedAt)
			inProgress[*task.AssignedTo]++
		}
	}
	for a, n := range inProgress {
		require.LessOrEqual(t, n, WIPLimit, "assignee %s", a)
	}
}
