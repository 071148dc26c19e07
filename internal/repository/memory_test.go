package repository

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/authgate/internal/domain"
	"github.com/spec-kit/authgate/pkg/apperr"
)

func newUser(email string) *domain.User {
	return &domain.User{Email: email, PasswordHash: "hash", Role: domain.RoleUser, IsActive: true}
}

func TestMemoryUsersCreateAndLookup(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryUsers()

	user := newUser("a@b.com")
	require.NoError(t, repo.Create(ctx, user))
	require.NotEmpty(t, user.ID)

	byID, err := repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", byID.Email)

	byEmail, err := repo.GetByEmail(ctx, "A@B.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byEmail.ID)

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, pgx.ErrNoRows)
}

func TestMemoryUsersDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryUsers()

	require.NoError(t, repo.Create(ctx, newUser("a@b.com")))
	err := repo.Create(ctx, newUser("a@b.com"))
	require.Error(t, err)
	assert.True(t, apperr.Is(apperr.From(err), apperr.KindDuplicateResource))
}

func TestMemoryUsersTouchAndDeactivate(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryUsers()
	user := newUser("a@b.com")
	require.NoError(t, repo.Create(ctx, user))

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, repo.TouchLastLogin(ctx, user.ID, at))
	require.NoError(t, repo.SetActive(ctx, user.ID, false))

	got, err := repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastLoginAt)
	assert.True(t, got.LastLoginAt.Equal(at))
	assert.False(t, got.IsActive)

	assert.ErrorIs(t, repo.SetActive(ctx, "missing", true), pgx.ErrNoRows)
}

func TestMemoryUsersListPaginates(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryUsers()
	for _, email := range []string{"one@x.com", "two@x.com", "three@y.com"} {
		require.NoError(t, repo.Create(ctx, newUser(email)))
	}

	all, total, err := repo.List(ctx, UserFilter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, all, 2)

	filtered, total, err := repo.List(ctx, UserFilter{Search: "x.com", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, filtered, 2)

	empty, _, err := repo.List(ctx, UserFilter{Limit: 10, Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryUsersUpdateFieldsTouchesOnlyGivenColumns(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryUsers()
	user := newUser("a@b.com")
	user.IsEmailVerified = true
	require.NoError(t, repo.Create(ctx, user))
	require.NoError(t, repo.SetActive(ctx, user.ID, false))

	name := "Ada"
	got, err := repo.UpdateFields(ctx, user.ID, UserUpdate{FirstName: &name})
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.FirstName)
	assert.False(t, got.IsActive)
	assert.True(t, got.IsEmailVerified)

	email := "new@b.com"
	got, err = repo.UpdateFields(ctx, user.ID, UserUpdate{Email: &email})
	require.NoError(t, err)
	assert.False(t, got.IsEmailVerified)
	_, err = repo.GetByEmail(ctx, "a@b.com")
	assert.ErrorIs(t, err, pgx.ErrNoRows)

	other := newUser("other@b.com")
	require.NoError(t, repo.Create(ctx, other))
	_, err = repo.UpdateFields(ctx, other.ID, UserUpdate{Email: &email})
	assert.True(t, apperr.Is(apperr.From(err), apperr.KindDuplicateResource))

	_, err = repo.UpdateFields(ctx, "missing", UserUpdate{FirstName: &name})
	assert.ErrorIs(t, err, pgx.ErrNoRows)
}

func TestMemoryUsersUpdatePasswordKeepsStatus(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryUsers()
	user := newUser("a@b.com")
	require.NoError(t, repo.Create(ctx, user))
	require.NoError(t, repo.SetActive(ctx, user.ID, false))

	require.NoError(t, repo.UpdatePassword(ctx, user.ID, "new-hash"))
	got, err := repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "new-hash", got.PasswordHash)
	assert.False(t, got.IsActive)

	assert.ErrorIs(t, repo.UpdatePassword(ctx, "missing", "x"), pgx.ErrNoRows)
}

func TestMemoryUsersDelete(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryUsers()
	user := newUser("a@b.com")
	require.NoError(t, repo.Create(ctx, user))

	require.NoError(t, repo.Delete(ctx, user.ID))
	_, err := repo.GetByID(ctx, user.ID)
	assert.ErrorIs(t, err, pgx.ErrNoRows)
	assert.ErrorIs(t, repo.Delete(ctx, user.ID), pgx.ErrNoRows)
	require.NoError(t, repo.Create(ctx, newUser("a@b.com")))
}

func TestMemoryUsersListFiltersAndSorts(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryUsers()
	seed := []struct {
		email  string
		role   domain.Role
		active bool
	}{
		{"carol@x.com", domain.RoleAdmin, true},
		{"alice@x.com", domain.RoleUser, true},
		{"bob@x.com", domain.RoleUser, false},
	}
	for _, s := range seed {
		u := newUser(s.email)
		u.Role = s.role
		u.IsActive = s.active
		require.NoError(t, repo.Create(ctx, u))
	}

	users, total, err := repo.List(ctx, UserFilter{Role: domain.RoleUser, Sort: "email", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, users, 2)
	assert.Equal(t, "alice@x.com", users[0].Email)
	assert.Equal(t, "bob@x.com", users[1].Email)

	inactive := false
	users, total, err = repo.List(ctx, UserFilter{IsActive: &inactive, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "bob@x.com", users[0].Email)

	users, _, err = repo.List(ctx, UserFilter{Sort: "-email", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, "carol@x.com", users[0].Email)
}

func TestMemoryPasswordResetsSingleUse(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryPasswordResets()

	reset := &domain.PasswordReset{UserID: "u1", Token: "tok", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, repo.Create(ctx, reset))

	got, err := repo.GetByToken(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)

	require.NoError(t, repo.MarkUsed(ctx, reset.ID))
	assert.ErrorIs(t, repo.MarkUsed(ctx, reset.ID), pgx.ErrNoRows)
}
