package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/nkiryanov/stickywall/internal/repository"
)

// Storage groups repositories sharing one connection: pool or transaction
type Storage struct {
	db DBTX

	users   *UserRepo
	refresh *RefreshTokenRepo
	todos   *TodoRepo
}

func NewStorage(db DBTX) repository.Storage {
	return &Storage{
		db:      db,
		users:   &UserRepo{DB: db},
		refresh: &RefreshTokenRepo{DB: db},
		todos:   &TodoRepo{DB: db},
	}
}

func (s *Storage) User() repository.UserRepo {
	return s.users
}

func (s *Storage) Refresh() repository.RefreshTokenRepo {
	return s.refresh
}

func (s *Storage) Todo() repository.TodoRepo {
	return s.todos
}

// Run fn in transaction. If storage is already bound to transaction, savepoint is used
// Error returned by fn is kept as is, so callers may match it with errors.Is
func (s *Storage) InTx(ctx context.Context, fn func(repository.Storage) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("db tx error: %w", err)
	}

	if err := fn(NewStorage(tx)); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return errors.Join(err, fmt.Errorf("db tx rollback error: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("db tx commit error: %w", err)
	}
	return nil
}
