package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"task-lifecycle-api/internal/models"

	"gorm.io/gorm"
)

// GormStore implements TaskRepository and UserDirectory on top of gorm.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an open, migrated connection.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

var (
	_ TaskRepository = (*GormStore)(nil)
	_ UserDirectory  = (*GormStore)(nil)
)

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

func byAssignee(q *gorm.DB, assignee *string) *gorm.DB {
	if assignee == nil {
		return q.Where("assigned_to IS NULL")
	}
	return q.Where("assigned_to = ?", *assignee)
}

func (s *GormStore) Create(ctx context.Context, task *models.Task) error {
	return translate(s.db.WithContext(ctx).Create(task).Error)
}

func (s *GormStore) Get(ctx context.Context, id string) (*models.Task, error) {
	var task models.Task
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&task).Error; err != nil {
		return nil, translate(err)
	}
	return &task, nil
}

func (s *GormStore) Save(ctx context.Context, task *models.Task) error {
	return translate(s.db.WithContext(ctx).Save(task).Error)
}

func (s *GormStore) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Task{})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) List(ctx context.Context, filter TaskFilter) ([]models.Task, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Task{})
	if filter.Unassigned {
		query = byAssignee(query, nil)
	} else if filter.Assignee != nil {
		query = byAssignee(query, filter.Assignee)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Category != "" {
		query = query.Where("category = ?", filter.Category)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, translate(err)
	}

	order := "created_at desc"
	if filter.Ascending {
		order = "created_at asc"
	}
	page := query.Session(&gorm.Session{}).Order(order)
	if filter.Limit > 0 {
		page = page.Limit(filter.Limit).Offset(filter.Offset)
	}
	var tasks []models.Task
	if err := page.Find(&tasks).Error; err != nil {
		return nil, 0, translate(err)
	}
	return tasks, total, nil
}

func (s *GormStore) Partition(ctx context.Context, assignee *string, status models.TaskStatus) ([]models.Task, error) {
	var tasks []models.Task
	q := byAssignee(s.db.WithContext(ctx).Where("status = ?", status), assignee)
	if err := q.Order("position asc").Order("created_at asc").Order("id asc").Find(&tasks).Error; err != nil {
		return nil, translate(err)
	}
	return tasks, nil
}

func (s *GormStore) MaxPosition(ctx context.Context, assignee *string, status models.TaskStatus) (int, bool, error) {
	var max sql.NullInt64
	q := byAssignee(s.db.WithContext(ctx).Model(&models.Task{}).Where("status = ?", status), assignee)
	if err := q.Select("MAX(position)").Row().Scan(&max); err != nil {
		return 0, false, translate(err)
	}
	if !max.Valid {
		return 0, false, nil
	}
	return int(max.Int64), true, nil
}

func (s *GormStore) PositionTaken(ctx context.Context, assignee *string, status models.TaskStatus, position int) (bool, error) {
	var count int64
	q := byAssignee(s.db.WithContext(ctx).Model(&models.Task{}).Where("status = ? AND position = ?", status, position), assignee)
	if err := q.Count(&count).Error; err != nil {
		return false, translate(err)
	}
	return count > 0, nil
}

func (s *GormStore) CountInStatus(ctx context.Context, assignee string, status models.TaskStatus) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Task{}).
		Where("assigned_to = ? AND status = ?", assignee, status).
		Count(&count).Error
	return count, translate(err)
}

func (s *GormStore) StatusCounts(ctx context.Context, assignee string) (map[models.TaskStatus]int64, error) {
	type row struct {
		Status string
		Count  int64
	}
	var rows []row
	if err := s.db.WithContext(ctx).Model(&models.Task{}).
		Select("status, COUNT(*) as count").
		Where("assigned_to = ?", assignee).
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, translate(err)
	}

	counts := map[models.TaskStatus]int64{
		models.StatusTodo:       0,
		models.StatusInProgress: 0,
		models.StatusDone:       0,
	}
	for _, r := range rows {
		counts[models.TaskStatus(r.Status)] = r.Count
	}
	return counts, nil
}

func (s *GormStore) Place(ctx context.Context, tasks []*models.Task) error {
	db := s.db.WithContext(ctx)
	for i, t := range tasks {
		var assignee any
		if t.AssignedTo != nil {
			assignee = *t.AssignedTo
		}
		park := map[string]any{
			"assigned_to": assignee,
			"status":      t.Status,
			"position":    -(i + 1),
		}
		if err := db.Model(&models.Task{}).Where("id = ?", t.ID).UpdateColumns(park).Error; err != nil {
			return translate(err)
		}
	}
	for _, t := range tasks {
		if err := db.Save(t).Error; err != nil {
			return translate(err)
		}
	}
	return nil
}

func (s *GormStore) CompletedSamples(ctx context.Context, scope HistoryScope) ([]Sample, error) {
	q := s.db.WithContext(ctx).
		Where("status = ?", models.StatusDone).
		Where("assigned_at IS NOT NULL AND completed_at IS NOT NULL").
		Where("story_points IS NOT NULL AND story_points > 0")
	if scope.Assignee != nil {
		q = q.Where("assigned_to = ?", *scope.Assignee)
	}
	if scope.Category != "" {
		q = q.Where("category = ?", scope.Category)
	}

	var done []models.Task
	if err := q.Select("id", "story_points", "assigned_at", "completed_at").Find(&done).Error; err != nil {
		return nil, translate(err)
	}

	samples := make([]Sample, 0, len(done))
	for _, t := range done {
		samples = append(samples, Sample{
			StoryPoints: *t.StoryPoints,
			Hours:       t.CompletedAt.Sub(*t.AssignedAt).Hours(),
		})
	}
	return samples, nil
}

func (s *GormStore) CompletedSince(ctx context.Context, since time.Time, assignee *string) (Throughput, error) {
	q := s.db.WithContext(ctx).
		Where("status = ? AND completed_at IS NOT NULL", models.StatusDone)
	if assignee != nil {
		q = q.Where("assigned_to = ?", *assignee)
	}

	var done []models.Task
	if err := q.Select("id", "story_points", "completed_at").Find(&done).Error; err != nil {
		return Throughput{}, translate(err)
	}

	// Filtered here rather than in SQL: SQLite stores timestamps as text and
	// lexical comparison breaks across zone offsets.
	var out Throughput
	for _, t := range done {
		if t.CompletedAt.Before(since) {
			continue
		}
		out.Tasks++
		if t.StoryPoints != nil {
			out.Points += *t.StoryPoints
		}
	}
	return out, nil
}

func (s *GormStore) LockAssignees(ctx context.Context, keys []string) error {
	if s.db.Dialector.Name() != "postgres" {
		return nil
	}
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	for _, key := range sorted {
		if err := s.db.WithContext(ctx).Exec("SELECT pg_advisory_xact_lock(hashtext(?))", "assignee:"+key).Error; err != nil {
			return translate(err)
		}
	}
	return nil
}

func (s *GormStore) Transaction(ctx context.Context, fn func(repo TaskRepository) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

func (s *GormStore) UserExists(ctx context.Context, id string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, translate(err)
	}
	return count > 0, nil
}

func (s *GormStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (s *GormStore) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&u).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (s *GormStore) CreateUser(ctx context.Context, user *models.User) error {
	return translate(s.db.WithContext(ctx).Create(user).Error)
}

func (s *GormStore) ListUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := s.db.WithContext(ctx).Order("username asc").Find(&users).Error; err != nil {
		return nil, translate(err)
	}
	return users, nil
}
