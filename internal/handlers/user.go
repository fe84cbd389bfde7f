package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/stickywall/internal/handlers/render"
	"github.com/nkiryanov/stickywall/internal/handlers/userctx"
)

func handleProfile() http.Handler {
	type response struct {
		ID        uuid.UUID `json:"id"`
		Email     string    `json:"email"`
		CreatedAt time.Time `json:"created_at"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := userctx.MustUser(r.Context())
		render.JSON(w, response{ID: user.ID, Email: user.Email, CreatedAt: user.CreatedAt})
	})
}
