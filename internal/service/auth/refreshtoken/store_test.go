package refreshtoken

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/nkiryanov/stickywall/internal/apperrors"
	"github.com/nkiryanov/stickywall/internal/models"
	"github.com/nkiryanov/stickywall/internal/repository"
	"github.com/nkiryanov/stickywall/internal/repository/postgres"
	"github.com/nkiryanov/stickywall/internal/service/auth/hasher"
	"github.com/nkiryanov/stickywall/internal/testutil"
)

// Clock that may be moved by the test
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Add(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func Test_ParseBearer(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	secret := strings.Repeat("ab", secretBytesLen)

	t.Run("parse ok", func(t *testing.T) {
		gotID, gotSecret, err := ParseBearer(FormatBearer(id, secret))

		require.NoError(t, err)
		require.Equal(t, id, gotID)
		require.Equal(t, secret, gotSecret)
	})

	tests := []struct {
		name   string
		bearer string
	}{
		{name: "empty", bearer: ""},
		{name: "no separator", bearer: id.String() + secret},
		{name: "not uuid", bearer: "not-uuid." + secret},
		{name: "secret not hex", bearer: id.String() + "." + strings.Repeat("zz", secretBytesLen)},
		{name: "secret too short", bearer: id.String() + ".abcd"},
		{name: "secret with extra separator", bearer: id.String() + "." + secret + ".ab"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ParseBearer(tt.bearer)

			require.Error(t, err)
			require.ErrorIs(t, err, apperrors.ErrMalformedToken)
		})
	}
}

func Test_Store(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	fastHasher := hasher.Bcrypt{Cost: bcrypt.MinCost}

	// Begin new db transaction, create user and store on it
	// Rollback transaction when test stops
	withTx := func(t *testing.T, c *clock, fn func(s *Store, user models.User, storage repository.Storage)) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			storage := postgres.NewStorage(tx)
			user, err := storage.User().CreateUser(t.Context(), "owner@example.com", "hash")
			require.NoError(t, err, "token owner should be created")

			s := New(Config{TTL: time.Hour, Hasher: fastHasher, Now: c.Now}, storage)
			fn(s, user, storage)
		})
	}

	newClock := func() *clock {
		return &clock{now: time.Now().Truncate(time.Microsecond)}
	}

	t.Run("new defaults", func(t *testing.T) {
		s := New(Config{}, nil)

		require.Equal(t, defaultRefreshTokenTTL, s.ttl, "default refresh token TTL should be set")
		require.Equal(t, hasher.Default, s.hasher, "default hasher should be set")
		require.NotNil(t, s.now)
		require.NotNil(t, s.logger)
	})

	t.Run("Issue", func(t *testing.T) {
		t.Run("issue ok", func(t *testing.T) {
			c := newClock()
			withTx(t, c, func(s *Store, user models.User, _ repository.Storage) {
				issued, err := s.Issue(t.Context(), user.ID)

				require.NoError(t, err)
				require.Equal(t, user.ID, issued.UserID)
				require.WithinDuration(t, c.Now().Add(time.Hour), issued.ExpiresAt, time.Microsecond)

				id, secret, err := ParseBearer(issued.Value)
				require.NoError(t, err, "issued bearer should be well formed")
				require.Equal(t, issued.ID, id)

				stored, err := s.Get(t.Context(), id)
				require.NoError(t, err)
				require.False(t, stored.Revoked)
				require.Nil(t, stored.ReplacedByID)
				require.NotContains(t, stored.TokenHash, secret, "secret must not be stored as is")
				require.NoError(t, fastHasher.Compare(stored.TokenHash, secret), "stored hash should match the secret")
			})
		})

		t.Run("issue different tokens", func(t *testing.T) {
			withTx(t, newClock(), func(s *Store, user models.User, _ repository.Storage) {
				first, err := s.Issue(t.Context(), user.ID)
				require.NoError(t, err)
				second, err := s.Issue(t.Context(), user.ID)
				require.NoError(t, err)

				assert.NotEqual(t, first.ID, second.ID)
				assert.NotEqual(t, first.Value, second.Value)
			})
		})
	})

	t.Run("Rotate", func(t *testing.T) {
		t.Run("rotate ok", func(t *testing.T) {
			withTx(t, newClock(), func(s *Store, user models.User, _ repository.Storage) {
				initial, err := s.Issue(t.Context(), user.ID)
				require.NoError(t, err)

				rotated, err := s.Rotate(t.Context(), initial.Value)

				require.NoError(t, err)
				require.Equal(t, user.ID, rotated.UserID, "rotated token should belong to the same user")
				require.NotEqual(t, initial.Value, rotated.Value)

				old, err := s.Get(t.Context(), initial.ID)
				require.NoError(t, err)
				require.True(t, old.Revoked, "used token must be revoked")
				require.NotNil(t, old.ReplacedByID)
				require.Equal(t, rotated.ID, *old.ReplacedByID, "used token must point to its successor")

				next, err := s.Get(t.Context(), rotated.ID)
				require.NoError(t, err)
				require.False(t, next.Revoked, "successor must be usable")
			})
		})

		t.Run("rotation chain", func(t *testing.T) {
			withTx(t, newClock(), func(s *Store, user models.User, _ repository.Storage) {
				token, err := s.Issue(t.Context(), user.ID)
				require.NoError(t, err)

				for range 3 {
					token, err = s.Rotate(t.Context(), token.Value)
					require.NoError(t, err, "every successor should be rotated once")
				}
			})
		})

		t.Run("malformed", func(t *testing.T) {
			withTx(t, newClock(), func(s *Store, _ models.User, _ repository.Storage) {
				_, err := s.Rotate(t.Context(), "garbage")

				require.ErrorIs(t, err, apperrors.ErrMalformedToken)
			})
		})

		t.Run("not found", func(t *testing.T) {
			withTx(t, newClock(), func(s *Store, _ models.User, _ repository.Storage) {
				bearer := FormatBearer(uuid.New(), strings.Repeat("ab", secretBytesLen))

				_, err := s.Rotate(t.Context(), bearer)

				require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)
			})
		})

		t.Run("expired", func(t *testing.T) {
			c := newClock()
			withTx(t, c, func(s *Store, user models.User, _ repository.Storage) {
				issued, err := s.Issue(t.Context(), user.ID)
				require.NoError(t, err)

				c.Add(time.Hour + time.Second)
				_, err = s.Rotate(t.Context(), issued.Value)

				require.ErrorIs(t, err, apperrors.ErrRefreshTokenExpired)
				stored, err := s.Get(t.Context(), issued.ID)
				require.NoError(t, err)
				require.False(t, stored.Revoked, "expired token is not a reuse signal")
			})
		})

		t.Run("replay revokes family", func(t *testing.T) {
			withTx(t, newClock(), func(s *Store, user models.User, _ repository.Storage) {
				t1, err := s.Issue(t.Context(), user.ID)
				require.NoError(t, err)
				t2, err := s.Rotate(t.Context(), t1.Value)
				require.NoError(t, err)
				other, err := s.Issue(t.Context(), user.ID) // Another session of the same user
				require.NoError(t, err)

				// Attacker replays the rotated token
				_, err = s.Rotate(t.Context(), t1.Value)
				require.ErrorIs(t, err, apperrors.ErrRefreshTokenReused)

				// Legitimate client can not use its newest token anymore
				_, err = s.Rotate(t.Context(), t2.Value)
				require.ErrorIs(t, err, apperrors.ErrRefreshTokenReused)

				for _, id := range []uuid.UUID{t1.ID, t2.ID, other.ID} {
					stored, err := s.Get(t.Context(), id)
					require.NoError(t, err)
					require.True(t, stored.Revoked, "every token of the family must be revoked")
				}
			})
		})

		t.Run("wrong secret revokes family", func(t *testing.T) {
			withTx(t, newClock(), func(s *Store, user models.User, _ repository.Storage) {
				issued, err := s.Issue(t.Context(), user.ID)
				require.NoError(t, err)
				forged := FormatBearer(issued.ID, strings.Repeat("00", secretBytesLen))

				_, err = s.Rotate(t.Context(), forged)
				require.ErrorIs(t, err, apperrors.ErrRefreshTokenReused)

				_, err = s.Rotate(t.Context(), issued.Value)
				require.ErrorIs(t, err, apperrors.ErrRefreshTokenReused, "genuine token must be revoked after forgery attempt")
			})
		})

		t.Run("family of other user untouched", func(t *testing.T) {
			withTx(t, newClock(), func(s *Store, user models.User, storage repository.Storage) {
				otherUser, err := storage.User().CreateUser(t.Context(), "other@example.com", "hash")
				require.NoError(t, err)
				mine, err := s.Issue(t.Context(), user.ID)
				require.NoError(t, err)
				theirs, err := s.Issue(t.Context(), otherUser.ID)
				require.NoError(t, err)
				_, err = s.Rotate(t.Context(), mine.Value)
				require.NoError(t, err)

				_, err = s.Rotate(t.Context(), mine.Value)
				require.ErrorIs(t, err, apperrors.ErrRefreshTokenReused)

				_, err = s.Rotate(t.Context(), theirs.Value)
				require.NoError(t, err, "other user tokens must stay valid")
			})
		})
	})

	t.Run("RevokeFamily", func(t *testing.T) {
		withTx(t, newClock(), func(s *Store, user models.User, _ repository.Storage) {
			first, err := s.Issue(t.Context(), user.ID)
			require.NoError(t, err)
			second, err := s.Issue(t.Context(), user.ID)
			require.NoError(t, err)

			require.NoError(t, s.RevokeFamily(t.Context(), user.ID))
			require.NoError(t, s.RevokeFamily(t.Context(), user.ID), "revoke family must be idempotent")

			for _, token := range []models.IssuedRefresh{first, second} {
				_, err = s.Rotate(t.Context(), token.Value)
				require.ErrorIs(t, err, apperrors.ErrRefreshTokenReused)
			}
		})
	})

	t.Run("RevokeByID", func(t *testing.T) {
		withTx(t, newClock(), func(s *Store, user models.User, _ repository.Storage) {
			revoked, err := s.Issue(t.Context(), user.ID)
			require.NoError(t, err)
			kept, err := s.Issue(t.Context(), user.ID)
			require.NoError(t, err)

			require.NoError(t, s.RevokeByID(t.Context(), revoked.ID))
			require.NoError(t, s.RevokeByID(t.Context(), revoked.ID), "revoke twice is no-op")
			require.NoError(t, s.RevokeByID(t.Context(), uuid.New()), "revoke of unknown token is no-op")

			stored, err := s.Get(t.Context(), revoked.ID)
			require.NoError(t, err)
			require.True(t, stored.Revoked)
			stored, err = s.Get(t.Context(), kept.ID)
			require.NoError(t, err)
			require.False(t, stored.Revoked, "only requested token should be revoked")
		})
	})

	t.Run("DeleteExpired", func(t *testing.T) {
		c := newClock()
		withTx(t, c, func(s *Store, user models.User, _ repository.Storage) {
			old, err := s.Issue(t.Context(), user.ID)
			require.NoError(t, err)
			c.Add(2 * time.Hour)
			fresh, err := s.Issue(t.Context(), user.ID)
			require.NoError(t, err)

			count, err := s.DeleteExpired(t.Context(), c.Now())

			require.NoError(t, err)
			require.EqualValues(t, 1, count)
			_, err = s.Get(t.Context(), old.ID)
			require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)
			_, err = s.Get(t.Context(), fresh.ID)
			require.NoError(t, err)
		})
	})

	// Runs on pool directly: concurrent transactions must see each other commits
	t.Run("concurrent rotation succeeds once", func(t *testing.T) {
		storage := postgres.NewStorage(pg.Pool)
		user, err := storage.User().CreateUser(t.Context(), uuid.NewString()+"@example.com", "hash")
		require.NoError(t, err)
		s := New(Config{Hasher: fastHasher}, storage)
		issued, err := s.Issue(t.Context(), user.ID)
		require.NoError(t, err)

		const attempts = 5
		errs := make([]error, attempts)
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := range attempts {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, errs[i] = s.Rotate(t.Context(), issued.Value)
			}()
		}
		close(start)
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			require.ErrorIs(t, err, apperrors.ErrRefreshTokenReused, "losers must see reuse")
		}
		require.Equal(t, 1, succeeded, "exactly one rotation must succeed")

		stored, err := s.Get(t.Context(), issued.ID)
		require.NoError(t, err)
		require.True(t, stored.Revoked)
		require.NotNil(t, stored.ReplacedByID, "winner must link the successor")
	})
}
