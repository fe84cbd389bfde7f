package todo

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/stickywall/internal/apperrors"
	"github.com/nkiryanov/stickywall/internal/models"
	"github.com/nkiryanov/stickywall/internal/repository"
)

const day = 24 * time.Hour

type TodoService struct {
	// Repository to access long term data
	storage repository.Storage

	// Used to get current time, time.Now if not set
	now func() time.Time
}

func NewService(storage repository.Storage, now func() time.Time) *TodoService {
	if now == nil {
		now = time.Now
	}

	return &TodoService{
		storage: storage,
		now:     now,
	}
}

func (s *TodoService) CreateTodo(ctx context.Context, user *models.User, todo models.Todo) (models.Todo, error) {
	todo.ID = uuid.Nil
	todo.UserID = user.ID
	todo.CreatedAt = s.now()
	todo.UpdatedAt = todo.CreatedAt

	return s.storage.Todo().CreateTodo(ctx, todo)
}

func (s *TodoService) ListTodos(ctx context.Context, user *models.User) ([]models.Todo, error) {
	return s.storage.Todo().ListTodos(ctx, user.ID)
}

// Get user todo
// Returns apperrors.ErrTodoForbidden if todo belongs to other user
func (s *TodoService) GetTodo(ctx context.Context, user *models.User, id uuid.UUID) (models.Todo, error) {
	return getOwned(ctx, s.storage.Todo(), user, id)
}

func (s *TodoService) UpdateTodo(ctx context.Context, user *models.User, id uuid.UUID, update models.TodoUpdate) (models.Todo, error) {
	var todo models.Todo

	err := s.storage.InTx(ctx, func(tx repository.Storage) error {
		if _, err := getOwned(ctx, tx.Todo(), user, id); err != nil {
			return err
		}

		var err error
		todo, err = tx.Todo().UpdateTodo(ctx, id, update)
		return err
	})

	return todo, err
}

func (s *TodoService) DeleteTodo(ctx context.Context, user *models.User, id uuid.UUID) error {
	return s.storage.InTx(ctx, func(tx repository.Storage) error {
		if _, err := getOwned(ctx, tx.Todo(), user, id); err != nil {
			return err
		}
		return tx.Todo().DeleteTodo(ctx, id)
	})
}

// Count user todos. Days are UTC days
func (s *TodoService) Stats(ctx context.Context, user *models.User) (models.TodoStats, error) {
	dayStart := s.now().UTC().Truncate(day)
	return s.storage.Todo().Stats(ctx, user.ID, dayStart)
}

func getOwned(ctx context.Context, repo repository.TodoRepo, user *models.User, id uuid.UUID) (models.Todo, error) {
	todo, err := repo.GetTodo(ctx, id)
	if err != nil {
		return models.Todo{}, err
	}
	if todo.UserID != user.ID {
		return models.Todo{}, apperrors.ErrTodoForbidden
	}
	return todo, nil
}
