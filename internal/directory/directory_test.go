package directory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vainalista-api/internal/cache"
	"vainalista-api/internal/models"
	"vainalista-api/internal/storage"
	"vainalista-api/internal/testutil"
)

// countingUsers counts lookups that reach the store
type countingUsers struct {
	storage.UserStore
	calls int
}

func (c *countingUsers) FindUserByEmail(ctx context.Context, email string) (*models.BasicUser, error) {
	c.calls++
	return c.UserStore.FindUserByEmail(ctx, email)
}

var start = time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T, opts ...Option) (*Directory, *countingUsers) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.PutUser(ctx, models.BasicUser{UID: "u1", Email: "ana@example.com", Nome: "Ana", CriadoEm: start}))
	require.NoError(t, store.PutUser(ctx, models.BasicUser{UID: "u2", Email: "bruno@example.com", Nome: "Bruno", CriadoEm: start}))

	local, err := cache.New(testutil.SetupTestDB(t))
	require.NoError(t, err)

	users := &countingUsers{UserStore: store}
	return New(users, local, opts...), users
}

func TestFindByEmail(t *testing.T) {
	ctx := context.Background()

	t.Run("successfully finds a user ignoring case", func(t *testing.T) {
		dir, _ := setup(t)
		user, found, err := dir.FindByEmail(ctx, "  ANA@example.com ")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "u1", user.UID)
	})

	t.Run("missing user is not an error", func(t *testing.T) {
		dir, _ := setup(t)
		user, found, err := dir.FindByEmail(ctx, "missing@x.com")
		require.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, user)
		assert.Equal(t, 0, dir.CacheStats().Size)
	})

	t.Run("invalid email is rejected", func(t *testing.T) {
		dir, users := setup(t)
		_, _, err := dir.FindByEmail(ctx, "not-an-email")
		assert.ErrorIs(t, err, models.ErrInvalidInput)
		assert.Equal(t, 0, users.calls)
	})

	t.Run("hits are served from the cache until they expire", func(t *testing.T) {
		dir, users := setup(t, WithTTL(50*time.Millisecond))
		_, _, err := dir.FindByEmail(ctx, "ana@example.com")
		require.NoError(t, err)
		_, _, err = dir.FindByEmail(ctx, "Ana@Example.com")
		require.NoError(t, err)
		assert.Equal(t, 1, users.calls)
		assert.Equal(t, CacheStats{Size: 1, Valid: 1}, dir.CacheStats())

		require.Eventually(t, func() bool { return dir.CacheStats().Valid == 0 }, time.Second, 5*time.Millisecond)

		_, found, err := dir.FindByEmail(ctx, "ana@example.com")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, 2, users.calls)
	})

	t.Run("oldest entry is evicted first", func(t *testing.T) {
		dir, users := setup(t, WithMaxEntries(1))
		_, _, _ = dir.FindByEmail(ctx, "ana@example.com")
		_, _, _ = dir.FindByEmail(ctx, "bruno@example.com")
		assert.Equal(t, 1, dir.CacheStats().Size)

		_, _, _ = dir.FindByEmail(ctx, "bruno@example.com")
		assert.Equal(t, 2, users.calls)
		_, _, _ = dir.FindByEmail(ctx, "ana@example.com")
		assert.Equal(t, 3, users.calls)
	})

	t.Run("clear cache forces a new lookup", func(t *testing.T) {
		dir, users := setup(t)
		_, _, _ = dir.FindByEmail(ctx, "ana@example.com")
		dir.ClearCache()
		assert.Equal(t, CacheStats{}, dir.CacheStats())
		_, _, _ = dir.FindByEmail(ctx, "ana@example.com")
		assert.Equal(t, 2, users.calls)
	})
}

func TestValidateEmail(t *testing.T) {
	ctx := context.Background()
	dir, _ := setup(t)

	t.Run("registered user", func(t *testing.T) {
		result := dir.ValidateEmail(ctx, " Ana@Example.com ")
		assert.Equal(t, "ana@example.com", result.Email)
		assert.True(t, result.Valido)
		assert.True(t, result.FormatoCorreto)
		assert.True(t, result.UsuarioExiste)
		require.NotNil(t, result.Usuario)
		assert.Equal(t, "u1", result.Usuario.UID)
		assert.Empty(t, result.MensagemErro)
	})

	t.Run("unknown user", func(t *testing.T) {
		result := dir.ValidateEmail(ctx, "missing@x.com")
		assert.False(t, result.Valido)
		assert.True(t, result.FormatoCorreto)
		assert.False(t, result.UsuarioExiste)
		assert.Equal(t, "User not found", result.MensagemErro)
	})

	t.Run("bad format never reaches the store", func(t *testing.T) {
		dir, users := setup(t)
		result := dir.ValidateEmail(ctx, "nope")
		assert.False(t, result.Valido)
		assert.False(t, result.FormatoCorreto)
		assert.Equal(t, "Invalid email format", result.MensagemErro)
		assert.Equal(t, 0, users.calls)
	})
}

func TestUsersByIDs(t *testing.T) {
	ctx := context.Background()
	dir, _ := setup(t)

	users := dir.UsersByIDs(ctx, []string{"u2", "ghost", "u1"})
	require.Len(t, users, 2)
	assert.Equal(t, "Bruno", users[0].Nome)
	assert.Equal(t, "Ana", users[1].Nome)

	assert.Empty(t, dir.UsersByIDs(ctx, nil))
}

func TestRecentEmails(t *testing.T) {
	ctx := context.Background()

	t.Run("newest first without duplicates", func(t *testing.T) {
		dir, _ := setup(t)
		require.NoError(t, dir.RememberEmail(ctx, "u1", "a@x.com"))
		require.NoError(t, dir.RememberEmail(ctx, "u1", "b@x.com"))
		require.NoError(t, dir.RememberEmail(ctx, "u1", "A@X.com"))

		emails, err := dir.RecentEmails(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, []string{"a@x.com", "b@x.com"}, emails)

		other, err := dir.RecentEmails(ctx, "u2")
		require.NoError(t, err)
		assert.Empty(t, other)
	})

	t.Run("history is capped", func(t *testing.T) {
		dir, _ := setup(t)
		for i := 0; i < MaxRecentEmails+5; i++ {
			require.NoError(t, dir.RememberEmail(ctx, "u1", fmt.Sprintf("user%d@x.com", i)))
		}
		emails, err := dir.RecentEmails(ctx, "u1")
		require.NoError(t, err)
		assert.Len(t, emails, MaxRecentEmails)
		assert.Equal(t, fmt.Sprintf("user%d@x.com", MaxRecentEmails+4), emails[0])
	})

	t.Run("clear history", func(t *testing.T) {
		dir, _ := setup(t)
		require.NoError(t, dir.RememberEmail(ctx, "u1", "a@x.com"))
		require.NoError(t, dir.ClearHistory(ctx, "u1"))
		emails, err := dir.RecentEmails(ctx, "u1")
		require.NoError(t, err)
		assert.Empty(t, emails)
	})

	t.Run("invalid email is not remembered", func(t *testing.T) {
		dir, _ := setup(t)
		assert.ErrorIs(t, dir.RememberEmail(ctx, "u1", "nope"), models.ErrInvalidInput)
	})
}
