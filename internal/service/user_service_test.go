package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/authgate/internal/config"
	"github.com/spec-kit/authgate/internal/domain"
	"github.com/spec-kit/authgate/internal/repository"
	"github.com/spec-kit/authgate/pkg/apperr"
)

func seedUsers(t *testing.T, n int) *repository.MemoryUsers {
	t.Helper()
	users := repository.NewMemoryUsers()
	for i := 0; i < n; i++ {
		require.NoError(t, users.Create(context.Background(), &domain.User{
			Email:    fmt.Sprintf("user%d@b.com", i),
			Role:     domain.RoleUser,
			IsActive: true,
		}))
	}
	return users
}

func newUserService(users repository.UserRepository) *UserService {
	return NewUserService(config.AuthConfig{BcryptCost: bcrypt.MinCost}, users, nil, nil)
}

func TestUserServiceList(t *testing.T) {
	svc := newUserService(seedUsers(t, 5))

	page, err := svc.List(context.Background(), ListUsersInput{Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	assert.Len(t, page.Users, 2)
	assert.Equal(t, 2, page.Page)
}

func TestUserServiceGetRejectsMalformedID(t *testing.T) {
	svc := newUserService(seedUsers(t, 1))

	_, err := svc.Get(context.Background(), "not-a-uuid")
	assert.True(t, apperr.Is(err, apperr.KindResourceNotFound))

	_, err = svc.Get(context.Background(), "7b0a3f8e-1a53-4f3e-9e3b-1d8c2f8f4a10")
	assert.True(t, apperr.Is(err, apperr.KindResourceNotFound))
}

func TestUserServiceSetActive(t *testing.T) {
	users := seedUsers(t, 1)
	svc := newUserService(users)

	list, _, err := users.List(context.Background(), repository.UserFilter{Limit: 1})
	require.NoError(t, err)
	target := list[0]

	user, err := svc.SetActive(context.Background(), "admin-id", target.ID, false)
	require.NoError(t, err)
	assert.False(t, user.IsActive)

	_, err = svc.SetActive(context.Background(), "admin-id", "bogus", true)
	assert.True(t, apperr.Is(err, apperr.KindResourceNotFound))
}

func TestUserServiceListFilters(t *testing.T) {
	users := seedUsers(t, 3)
	svc := newUserService(users)
	ctx := context.Background()

	admin, err := svc.Create(ctx, "root", CreateUserInput{Email: "zed@b.com", Password: "Str0ng!Pass", Role: domain.RoleAdmin})
	require.NoError(t, err)
	first, err := users.GetByEmail(ctx, "user0@b.com")
	require.NoError(t, err)
	require.NoError(t, users.SetActive(ctx, first.ID, false))

	page, err := svc.List(ctx, ListUsersInput{Role: domain.RoleAdmin})
	require.NoError(t, err)
	require.Len(t, page.Users, 1)
	assert.Equal(t, admin.ID, page.Users[0].ID)

	inactive := false
	page, err = svc.List(ctx, ListUsersInput{IsActive: &inactive})
	require.NoError(t, err)
	require.Len(t, page.Users, 1)
	assert.Equal(t, first.ID, page.Users[0].ID)

	page, err = svc.List(ctx, ListUsersInput{Sort: "-email"})
	require.NoError(t, err)
	require.Len(t, page.Users, 4)
	assert.Equal(t, "zed@b.com", page.Users[0].Email)
	assert.Equal(t, "user0@b.com", page.Users[3].Email)
}

func TestUserServiceCreate(t *testing.T) {
	users := repository.NewMemoryUsers()
	svc := newUserService(users)
	ctx := context.Background()

	user, err := svc.Create(ctx, "admin-id", CreateUserInput{Email: "new@b.com", Password: "Str0ng!Pass", FirstName: "Ada"})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleUser, user.Role)
	assert.True(t, user.IsActive)
	assert.NotEqual(t, "Str0ng!Pass", user.PasswordHash)

	_, err = svc.Create(ctx, "admin-id", CreateUserInput{Email: "new@b.com", Password: "Str0ng!Pass"})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindDuplicateResource))
	assert.Equal(t, msgUserExists, err.Error())

	_, err = svc.Create(ctx, "admin-id", CreateUserInput{Email: "x@b.com", Password: "Str0ng!Pass", Role: "root"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestUserServiceUpdate(t *testing.T) {
	users := repository.NewMemoryUsers()
	svc := newUserService(users)
	ctx := context.Background()

	owner, err := svc.Create(ctx, "admin-id", CreateUserInput{Email: "owner@b.com", Password: "Str0ng!Pass"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, "admin-id", CreateUserInput{Email: "taken@b.com", Password: "Str0ng!Pass"})
	require.NoError(t, err)

	self := &domain.Principal{SubjectID: owner.ID, Role: domain.RoleUser}
	admin := &domain.Principal{SubjectID: "admin-id", Role: domain.RoleAdmin}
	name := "Grace"
	taken := "taken@b.com"
	elevated := domain.RoleAdmin
	inactive := false

	user, err := svc.Update(ctx, self, owner.ID, UpdateUserInput{FirstName: &name})
	require.NoError(t, err)
	assert.Equal(t, "Grace", user.FirstName)

	_, err = svc.Update(ctx, self, owner.ID, UpdateUserInput{Role: &elevated})
	assert.True(t, apperr.Is(err, apperr.KindRoleForbidden))
	_, err = svc.Update(ctx, self, owner.ID, UpdateUserInput{IsActive: &inactive})
	assert.True(t, apperr.Is(err, apperr.KindRoleForbidden))

	_, err = svc.Update(ctx, admin, owner.ID, UpdateUserInput{Email: &taken})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindDuplicateResource))
	assert.Equal(t, "Email already in use", err.Error())

	user, err = svc.Update(ctx, admin, owner.ID, UpdateUserInput{Role: &elevated, IsActive: &inactive})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, user.Role)
	assert.False(t, user.IsActive)
	assert.Equal(t, "Grace", user.FirstName)

	_, err = svc.Update(ctx, admin, "not-a-uuid", UpdateUserInput{FirstName: &name})
	assert.True(t, apperr.Is(err, apperr.KindResourceNotFound))
}

func TestUserServiceDelete(t *testing.T) {
	users := repository.NewMemoryUsers()
	svc := newUserService(users)
	ctx := context.Background()

	user, err := svc.Create(ctx, "admin-id", CreateUserInput{Email: "gone@b.com", Password: "Str0ng!Pass"})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, "admin-id", user.ID))
	_, err = svc.Get(ctx, user.ID)
	assert.True(t, apperr.Is(err, apperr.KindResourceNotFound))

	err = svc.Delete(ctx, "admin-id", user.ID)
	assert.True(t, apperr.Is(err, apperr.KindResourceNotFound))
	err = svc.Delete(ctx, "admin-id", "not-a-uuid")
	assert.True(t, apperr.Is(err, apperr.KindResourceNotFound))
}
