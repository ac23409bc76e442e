package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/cuonglevan23/taskflow-backend-sub002/internal/models"
)

// taskRow mirrors the columns the reminder scan reads from the task service's schema.
type taskRow struct {
	ID          string         `db:"id"`
	Title       string         `db:"title"`
	Description sql.NullString `db:"description"`
	Deadline    time.Time      `db:"deadline"`
	CreatorID   string         `db:"creator_id"`
	AssigneeIDs pq.StringArray `db:"assignee_ids"`
	Completed   bool           `db:"completed"`
}

// TaskStore reads tasks owned by the task-management service. It never writes.
type TaskStore struct {
	db *sqlx.DB
}

// NewTaskStore wraps an existing connection; driverName is used for sqlx's bind type.
func NewTaskStore(db *sql.DB, driverName string) *TaskStore {
	return &TaskStore{db: sqlx.NewDb(db, driverName)}
}

// OpenTaskStore connects to the task database with lib/pq.
func OpenTaskStore(databaseURI string) (*TaskStore, error) {
	wrapMsg := "unable to open the task database"
	db, err := sqlx.Open("postgres", databaseURI)
	if err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, wrapMsg)
	}
	return &TaskStore{db: db}, nil
}

func (s *TaskStore) Close() error {
	return s.db.Close()
}

// DueBetween returns incomplete tasks whose deadline falls in (from, to].
func (s *TaskStore) DueBetween(ctx context.Context, from, to time.Time) ([]models.Task, error) {
	wrapMsg := fmt.Sprintf("unable to list tasks due between %s and %s", from.Format(time.RFC3339), to.Format(time.RFC3339))

	// Build the query.
	query, args, err := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Select(
			"t.id",
			"t.title",
			"t.description",
			"t.deadline",
			"t.creator_id",
			"t.completed",
			"COALESCE(array_agg(a.user_id) FILTER (WHERE a.user_id IS NOT NULL), '{}') AS assignee_ids",
		).
		From("tasks t").
		LeftJoin("task_assignees a ON a.task_id = t.id").
		Where(sq.Eq{"t.completed": false}).
		Where(sq.Gt{"t.deadline": from}).
		Where(sq.LtOrEq{"t.deadline": to}).
		GroupBy("t.id", "t.title", "t.description", "t.deadline", "t.creator_id", "t.completed").
		OrderBy("t.deadline ASC").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}

	// Run it.
	var rows []taskRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}

	tasks := make([]models.Task, 0, len(rows))
	for _, r := range rows {
		tasks = append(tasks, models.Task{
			ID:          r.ID,
			Title:       r.Title,
			Description: r.Description.String,
			Deadline:    r.Deadline,
			CreatorID:   r.CreatorID,
			AssigneeIDs: []string(r.AssigneeIDs),
			Completed:   r.Completed,
		})
	}
	return tasks, nil
}
