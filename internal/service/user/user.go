package user

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/nkiryanov/stickywall/internal/apperrors"
	"github.com/nkiryanov/stickywall/internal/models"
	"github.com/nkiryanov/stickywall/internal/repository"
	"github.com/nkiryanov/stickywall/internal/service/auth/hasher"
)

// Compared against when user does not exist, so unknown email costs the same as wrong password
const dummyPassword = "dummy-password-to-keep-timing-uniform"

type UserService struct {
	hasher    hasher.Hasher
	storage   repository.Storage
	dummyHash string
}

func NewService(h hasher.Hasher, storage repository.Storage) (*UserService, error) {
	if h == nil {
		h = hasher.Default
	}

	dummyHash, err := h.Hash(dummyPassword)
	if err != nil {
		return nil, fmt.Errorf("can't prepare hasher. Err: %w", err)
	}

	return &UserService{
		hasher:    h,
		storage:   storage,
		dummyHash: dummyHash,
	}, nil
}

// Emails are case insensitive
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *UserService) CreateUser(ctx context.Context, email string, password string) (models.User, error) {
	var user models.User
	if password == "" {
		return user, errors.New("password must not be empty")
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return user, fmt.Errorf("can't use this as password, Err: %w", err)
	}

	user, err = s.storage.User().CreateUser(ctx, NormalizeEmail(email), hash)
	if err != nil {
		return user, fmt.Errorf("can't create user. Err: %w", err)
	}

	return user, nil
}

// Login returns user if password matches
// Unknown email and wrong password both reported as apperrors.ErrInvalidCredentials
func (s *UserService) Login(ctx context.Context, email string, password string) (models.User, error) {
	user, err := s.storage.User().GetUserByEmail(ctx, NormalizeEmail(email))

	switch {
	case err == nil:
		if err := s.hasher.Compare(user.HashedPassword, password); err != nil {
			return models.User{}, apperrors.ErrInvalidCredentials
		}
		return user, nil
	case errors.Is(err, apperrors.ErrUserNotFound):
		_ = s.hasher.Compare(s.dummyHash, password)
		return models.User{}, apperrors.ErrInvalidCredentials
	default:
		return models.User{}, fmt.Errorf("can't get user. Err: %w", err)
	}
}

func (s *UserService) GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error) {
	return s.storage.User().GetUserByID(ctx, userID)
}
