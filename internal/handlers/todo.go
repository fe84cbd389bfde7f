package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/stickywall/internal/apperrors"
	"github.com/nkiryanov/stickywall/internal/handlers/render"
	"github.com/nkiryanov/stickywall/internal/handlers/userctx"
	"github.com/nkiryanov/stickywall/internal/logger"
	"github.com/nkiryanov/stickywall/internal/models"
)

type TodoResponse struct {
	ID          uuid.UUID  `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Color       string     `json:"color"`
	Category    string     `json:"category"`
	Completed   bool       `json:"completed"`
	DueAt       *time.Time `json:"due_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func newTodoResponse(t models.Todo) TodoResponse {
	return TodoResponse{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Color:       t.Color,
		Category:    t.Category,
		Completed:   t.Completed,
		DueAt:       t.DueAt,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

func handleCreateTodo(todoService todoService, logger logger.Logger) http.Handler {
	type request struct {
		Title       string     `json:"title" validate:"notblank,max=200"`
		Description string     `json:"description" validate:"max=2000"`
		Color       string     `json:"color" validate:"max=32"`
		Category    string     `json:"category" validate:"max=64"`
		Completed   bool       `json:"completed"`
		DueAt       *time.Time `json:"due_at"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := userctx.MustUser(r.Context())

		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		todo, err := todoService.CreateTodo(r.Context(), user, models.Todo{
			Title:       data.Title,
			Description: data.Description,
			Color:       data.Color,
			Category:    data.Category,
			Completed:   data.Completed,
			DueAt:       data.DueAt,
		})
		if err != nil {
			logger.Error("Failed to create todo", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		render.JSONWithStatus(w, newTodoResponse(todo), http.StatusCreated)
	})
}

func handleListTodos(todoService todoService, logger logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := userctx.MustUser(r.Context())

		todos, err := todoService.ListTodos(r.Context(), user)
		if err != nil {
			logger.Error("Failed to list todos", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		res := make([]TodoResponse, 0, len(todos))
		for _, t := range todos {
			res = append(res, newTodoResponse(t))
		}

		render.JSON(w, res)
	})
}

func handleTodoStats(todoService todoService, logger logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := userctx.MustUser(r.Context())

		stats, err := todoService.Stats(r.Context(), user)
		if err != nil {
			logger.Error("Failed to count todos", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		render.JSON(w, stats)
	})
}

func handleGetTodo(todoService todoService, logger logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := userctx.MustUser(r.Context())

		id, ok := todoID(w, r)
		if !ok {
			return
		}

		todo, err := todoService.GetTodo(r.Context(), user, id)
		if err != nil {
			todoError(w, logger, err)
			return
		}

		render.JSON(w, newTodoResponse(todo))
	})
}

func handleUpdateTodo(todoService todoService, logger logger.Logger) http.Handler {
	type request struct {
		Title       *string    `json:"title" validate:"omitnil,notblank,max=200"`
		Description *string    `json:"description" validate:"omitnil,max=2000"`
		Color       *string    `json:"color" validate:"omitnil,max=32"`
		Category    *string    `json:"category" validate:"omitnil,max=64"`
		Completed   *bool      `json:"completed"`
		DueAt       *time.Time `json:"due_at"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := userctx.MustUser(r.Context())

		id, ok := todoID(w, r)
		if !ok {
			return
		}

		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		todo, err := todoService.UpdateTodo(r.Context(), user, id, models.TodoUpdate{
			Title:       data.Title,
			Description: data.Description,
			Color:       data.Color,
			Category:    data.Category,
			Completed:   data.Completed,
			DueAt:       data.DueAt,
		})
		if err != nil {
			todoError(w, logger, err)
			return
		}

		render.JSON(w, newTodoResponse(todo))
	})
}

func handleDeleteTodo(todoService todoService, logger logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := userctx.MustUser(r.Context())

		id, ok := todoID(w, r)
		if !ok {
			return
		}

		if err := todoService.DeleteTodo(r.Context(), user, id); err != nil {
			todoError(w, logger, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	})
}

// Malformed id is reported as missing todo
func todoID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		render.ServiceError(w, "Todo not found", http.StatusNotFound)
		return uuid.Nil, false
	}
	return id, true
}

func todoError(w http.ResponseWriter, logger logger.Logger, err error) {
	switch {
	case errors.Is(err, apperrors.ErrTodoNotFound):
		render.ServiceError(w, "Todo not found", http.StatusNotFound)
	case errors.Is(err, apperrors.ErrTodoForbidden):
		render.ServiceError(w, "Todo belongs to another user", http.StatusForbidden)
	default:
		logger.Error("Todo request failed", "error", err)
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
	}
}
