package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nkiryanov/stickywall/internal/apperrors"
	"github.com/nkiryanov/stickywall/internal/models"
)

type TodoRepo struct {
	DB DBTX
}

const todoColumns = `id, user_id, title, description, color, category, completed, due_at, created_at, updated_at`

const createTodo = `-- name: CreateTodo
INSERT INTO todos (` + todoColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING ` + todoColumns

// Create todo
// Zero ID and timestamps are filled with defaults
func (r *TodoRepo) CreateTodo(ctx context.Context, t models.Todo) (models.Todo, error) {
	now := time.Now()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}

	rows, _ := r.DB.Query(ctx, createTodo,
		t.ID, t.UserID, t.Title, t.Description, t.Color, t.Category, t.Completed, t.DueAt, t.CreatedAt, t.UpdatedAt,
	)
	todo, err := pgx.CollectOneRow(rows, rowToTodo)
	if err != nil {
		return todo, fmt.Errorf("db error: %w", err)
	}

	return todo, nil
}

const getTodo = `-- name: GetTodo
SELECT ` + todoColumns + `
FROM todos
WHERE id = $1
`

func (r *TodoRepo) GetTodo(ctx context.Context, id uuid.UUID) (models.Todo, error) {
	rows, _ := r.DB.Query(ctx, getTodo, id)
	todo, err := pgx.CollectOneRow(rows, rowToTodo)

	switch {
	case err == nil:
		return todo, nil
	case errors.Is(err, pgx.ErrNoRows):
		return todo, apperrors.ErrTodoNotFound
	default:
		return todo, fmt.Errorf("db error: %w", err)
	}
}

const listTodos = `-- name: ListTodos
SELECT ` + todoColumns + `
FROM todos
WHERE user_id = $1
ORDER BY created_at DESC, id
`

func (r *TodoRepo) ListTodos(ctx context.Context, userID uuid.UUID) ([]models.Todo, error) {
	rows, _ := r.DB.Query(ctx, listTodos, userID)
	todos, err := pgx.CollectRows(rows, rowToTodo)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return todos, nil
}

const updateTodo = `-- name: UpdateTodo
UPDATE todos
SET
	title = COALESCE($2, title),
	description = COALESCE($3, description),
	color = COALESCE($4, color),
	category = COALESCE($5, category),
	completed = COALESCE($6, completed),
	due_at = COALESCE($7, due_at),
	updated_at = $8
WHERE id = $1
RETURNING ` + todoColumns

func (r *TodoRepo) UpdateTodo(ctx context.Context, id uuid.UUID, u models.TodoUpdate) (models.Todo, error) {
	rows, _ := r.DB.Query(ctx, updateTodo,
		id, u.Title, u.Description, u.Color, u.Category, u.Completed, u.DueAt, time.Now(),
	)
	todo, err := pgx.CollectOneRow(rows, rowToTodo)

	switch {
	case err == nil:
		return todo, nil
	case errors.Is(err, pgx.ErrNoRows):
		return todo, apperrors.ErrTodoNotFound
	default:
		return todo, fmt.Errorf("db error: %w", err)
	}
}

const deleteTodo = `-- name: DeleteTodo
DELETE FROM todos
WHERE id = $1
`

func (r *TodoRepo) DeleteTodo(ctx context.Context, id uuid.UUID) error {
	tag, err := r.DB.Exec(ctx, deleteTodo, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return apperrors.ErrTodoNotFound
	}

	return nil
}

// Todos without due date count in total and completed only
const todoStats = `-- name: TodoStats
SELECT
	count(*),
	count(*) FILTER (WHERE completed),
	count(*) FILTER (WHERE NOT completed AND due_at >= $2 AND due_at < $3),
	count(*) FILTER (WHERE NOT completed AND due_at >= $3)
FROM todos
WHERE user_id = $1
`

func (r *TodoRepo) Stats(ctx context.Context, userID uuid.UUID, dayStart time.Time) (models.TodoStats, error) {
	var s models.TodoStats
	dayEnd := dayStart.Add(24 * time.Hour)

	err := r.DB.QueryRow(ctx, todoStats, userID, dayStart, dayEnd).Scan(&s.Total, &s.Completed, &s.Today, &s.Upcoming)
	if err != nil {
		return s, fmt.Errorf("db error: %w", err)
	}

	return s, nil
}

func rowToTodo(row pgx.CollectableRow) (models.Todo, error) {
	var t models.Todo
	err := row.Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &t.Color, &t.Category, &t.Completed, &t.DueAt, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}
