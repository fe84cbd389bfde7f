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

type RefreshTokenRepo struct {
	DB DBTX
}

const createToken = `-- name: CreateRefreshToken
INSERT INTO refresh_tokens (id, user_id, token_hash, created_at, expires_at, revoked, replaced_by_id)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, user_id, token_hash, created_at, expires_at, revoked, replaced_by_id
`

func (r *RefreshTokenRepo) Create(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, createToken,
		token.ID, token.UserID, token.TokenHash, token.CreatedAt, token.ExpiresAt, token.Revoked, token.ReplacedByID,
	)
	token, err := pgx.CollectOneRow(rows, rowToRefreshToken)
	if err != nil {
		return token, fmt.Errorf("db error: %w", err)
	}

	return token, nil
}

const getToken = `-- name: GetRefreshToken
SELECT id, user_id, token_hash, created_at, expires_at, revoked, replaced_by_id
FROM refresh_tokens
WHERE id = $1
`

// Get token
// It should return result even it expired or revoked already
func (r *RefreshTokenRepo) Get(ctx context.Context, id uuid.UUID) (models.RefreshToken, error) {
	return r.get(ctx, getToken, id)
}

const getTokenForUpdate = getToken + `FOR UPDATE
`

// Get token and lock it until the surrounding transaction ends
// Concurrent rotations of the same token are serialized here
func (r *RefreshTokenRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (models.RefreshToken, error) {
	return r.get(ctx, getTokenForUpdate, id)
}

func (r *RefreshTokenRepo) get(ctx context.Context, query string, id uuid.UUID) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, query, id)
	token, err := pgx.CollectOneRow(rows, rowToRefreshToken)

	switch {
	case err == nil:
		return token, nil
	case errors.Is(err, pgx.ErrNoRows):
		return token, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	default:
		return token, fmt.Errorf("db error: %w", err)
	}
}

const markReplaced = `-- name: MarkRefreshTokenReplaced
UPDATE refresh_tokens
SET revoked = TRUE, replaced_by_id = $2
WHERE id = $1 AND NOT revoked
`

// Revoke the token and link it to its successor
// Only not revoked token may be replaced: zero affected rows means someone rotated it already
func (r *RefreshTokenRepo) MarkReplaced(ctx context.Context, id uuid.UUID, replacedByID uuid.UUID) error {
	tag, err := r.DB.Exec(ctx, markReplaced, id, replacedByID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenIsUsed)
	}

	return nil
}

const revokeToken = `-- name: RevokeRefreshToken
UPDATE refresh_tokens
SET revoked = TRUE
WHERE id = $1 AND NOT revoked
`

func (r *RefreshTokenRepo) Revoke(ctx context.Context, id uuid.UUID) error {
	_, err := r.DB.Exec(ctx, revokeToken, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

const revokeUserTokens = `-- name: RevokeUserRefreshTokens
UPDATE refresh_tokens
SET revoked = TRUE
WHERE user_id = $1 AND NOT revoked
`

func (r *RefreshTokenRepo) RevokeForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	tag, err := r.DB.Exec(ctx, revokeUserTokens, userID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}

	return tag.RowsAffected(), nil
}

const deleteExpired = `-- name: DeleteExpiredRefreshTokens
DELETE FROM refresh_tokens
WHERE expires_at < $1
`

func (r *RefreshTokenRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, deleteExpired, before)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}

	return tag.RowsAffected(), nil
}

func rowToRefreshToken(row pgx.CollectableRow) (models.RefreshToken, error) {
	var t models.RefreshToken
	err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.CreatedAt, &t.ExpiresAt, &t.Revoked, &t.ReplacedByID)
	return t, err
}
