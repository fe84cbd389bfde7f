package models

import (
	"time"

	"github.com/google/uuid"
)

type Todo struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	Title       string
	Description string
	Color       string
	Category    string
	Completed   bool
	DueAt       *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Partial todo update, nil fields are left untouched
type TodoUpdate struct {
	Title       *string
	Description *string
	Color       *string
	Category    *string
	Completed   *bool
	DueAt       *time.Time
}

type TodoStats struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Today     int `json:"today"`
	Upcoming  int `json:"upcoming"`
}
