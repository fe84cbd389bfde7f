package refreshtoken

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/stickywall/internal/apperrors"
	"github.com/nkiryanov/stickywall/internal/logger"
	"github.com/nkiryanov/stickywall/internal/models"
	"github.com/nkiryanov/stickywall/internal/repository"
	"github.com/nkiryanov/stickywall/internal/service/auth/hasher"
)

const (
	defaultRefreshTokenTTL = 7 * 24 * time.Hour

	// Random bytes in refresh token secret
	secretBytesLen = 32

	bearerSeparator = "."
)

type Config struct {
	// Refresh token lifetime
	// If not set than default is used
	TTL time.Duration

	// Hasher for refresh token secrets, hasher.Default if not set
	Hasher hasher.Hasher

	// Used to get current time, time.Now if not set
	Now func() time.Time

	Logger logger.Logger
}

// Store issues, rotates and revokes refresh tokens
// Token is single use: every successful rotation revokes presented token and issues its successor
// Presenting revoked token or token with wrong secret is treated as stolen token: all user tokens get revoked
type Store struct {
	ttl     time.Duration
	hasher  hasher.Hasher
	now     func() time.Time
	logger  logger.Logger
	storage repository.Storage
}

func New(cfg Config, storage repository.Storage) *Store {
	if cfg.TTL == 0 {
		cfg.TTL = defaultRefreshTokenTTL
	}
	if cfg.Hasher == nil {
		cfg.Hasher = hasher.Default
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoOpLogger()
	}

	return &Store{
		ttl:     cfg.TTL,
		hasher:  cfg.Hasher,
		now:     cfg.Now,
		logger:  cfg.Logger,
		storage: storage,
	}
}

func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Issue new refresh token for the user, first one of the rotation chain
func (s *Store) Issue(ctx context.Context, userID uuid.UUID) (models.IssuedRefresh, error) {
	return s.issue(ctx, s.storage.Refresh(), userID)
}

// Rotate exchanges valid bearer for new refresh token
//
// Errors:
//   - apperrors.ErrMalformedToken if bearer could not be parsed
//   - apperrors.ErrRefreshTokenNotFound if token is unknown
//   - apperrors.ErrRefreshTokenExpired if token is expired
//   - apperrors.ErrRefreshTokenReused if token is revoked already or secret does not match;
//     every user token is revoked before the error returned
func (s *Store) Rotate(ctx context.Context, bearer string) (models.IssuedRefresh, error) {
	var issued models.IssuedRefresh

	id, secret, err := ParseBearer(bearer)
	if err != nil {
		return issued, err
	}

	var (
		userID uuid.UUID
		reason string // not empty if reuse detected
	)

	err = s.storage.InTx(ctx, func(tx repository.Storage) error {
		repo := tx.Refresh()

		token, err := repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		userID = token.UserID

		if token.Revoked {
			reason = "revoked token presented"
			_, err = repo.RevokeForUser(ctx, token.UserID)
			return err
		}

		if s.now().After(token.ExpiresAt) {
			return fmt.Errorf("token expired at %s: %w", token.ExpiresAt, apperrors.ErrRefreshTokenExpired)
		}

		if err := s.hasher.Compare(token.TokenHash, secret); err != nil {
			reason = "secret mismatch"
			_, err = repo.RevokeForUser(ctx, token.UserID)
			return err
		}

		issued, err = s.issue(ctx, repo, token.UserID)
		if err != nil {
			return err
		}

		return repo.MarkReplaced(ctx, token.ID, issued.ID)
	})

	switch {
	case err == nil && reason == "":
		return issued, nil
	case err == nil:
		s.logger.Warn("Refresh token reuse detected, session family revoked", "user_id", userID, "token_id", id, "reason", reason)
		return models.IssuedRefresh{}, apperrors.ErrRefreshTokenReused
	case errors.Is(err, apperrors.ErrRefreshTokenIsUsed):
		// Rotated concurrently, the new token was rolled back with the transaction
		if revokeErr := s.RevokeFamily(ctx, userID); revokeErr != nil {
			return models.IssuedRefresh{}, revokeErr
		}
		s.logger.Warn("Refresh token reuse detected, session family revoked", "user_id", userID, "token_id", id, "reason", "concurrent rotation")
		return models.IssuedRefresh{}, apperrors.ErrRefreshTokenReused
	default:
		return models.IssuedRefresh{}, fmt.Errorf("refresh token rotation failed: %w", err)
	}
}

// Revoke every token of the user
// Idempotent: revoking already revoked family is not an error
func (s *Store) RevokeFamily(ctx context.Context, userID uuid.UUID) error {
	_, err := s.storage.Refresh().RevokeForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("error while revoking user refresh tokens. Err: %w", err)
	}
	return nil
}

// Revoke single token. Not existed or revoked token is ignored
func (s *Store) RevokeByID(ctx context.Context, id uuid.UUID) error {
	err := s.storage.Refresh().Revoke(ctx, id)
	if err != nil {
		return fmt.Errorf("error while revoking refresh token. Err: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (models.RefreshToken, error) {
	return s.storage.Refresh().Get(ctx, id)
}

// Delete tokens expired before the moment
func (s *Store) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	return s.storage.Refresh().DeleteExpired(ctx, before)
}

func (s *Store) issue(ctx context.Context, repo repository.RefreshTokenRepo, userID uuid.UUID) (models.IssuedRefresh, error) {
	var issued models.IssuedRefresh
	now := s.now()

	b := make([]byte, secretBytesLen)
	_, err := rand.Read(b)
	if err != nil {
		return issued, fmt.Errorf("error while generate refresh token. Err: %w", err)
	}
	secret := hex.EncodeToString(b)

	hash, err := s.hasher.Hash(secret)
	if err != nil {
		return issued, fmt.Errorf("error while hashing refresh token. Err: %w", err)
	}

	token, err := repo.Create(ctx, models.RefreshToken{
		ID:        uuid.New(),
		UserID:    userID,
		TokenHash: hash,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	})
	if err != nil {
		return issued, fmt.Errorf("error while saving refresh token. Err: %w", err)
	}

	return models.IssuedRefresh{
		ID:     token.ID,
		UserID: userID,
		IssuedToken: models.IssuedToken{
			Value:     FormatBearer(token.ID, secret),
			ExpiresAt: token.ExpiresAt,
		},
	}, nil
}

func FormatBearer(id uuid.UUID, secret string) string {
	return id.String() + bearerSeparator + secret
}

// Split bearer value '<id>.<secret>'
// Returns apperrors.ErrMalformedToken if value has wrong shape
func ParseBearer(bearer string) (uuid.UUID, string, error) {
	rawID, secret, ok := strings.Cut(bearer, bearerSeparator)
	if !ok {
		return uuid.Nil, "", fmt.Errorf("separator not found: %w", apperrors.ErrMalformedToken)
	}

	id, err := uuid.Parse(rawID)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("id is not uuid: %w", apperrors.ErrMalformedToken)
	}

	decoded, err := hex.DecodeString(secret)
	if err != nil || len(decoded) != secretBytesLen {
		return uuid.Nil, "", fmt.Errorf("secret is not %d bytes hex: %w", secretBytesLen, apperrors.ErrMalformedToken)
	}

	return id, secret, nil
}
