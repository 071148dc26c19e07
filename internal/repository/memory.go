package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/spec-kit/authgate/internal/domain"
)

// MemoryUsers is an in-memory UserRepository for development and tests.
// It reports the same errors as the Postgres implementation.
type MemoryUsers struct {
	mu         sync.RWMutex
	users      map[string]domain.User
	emailIndex map[string]string
	now        func() time.Time
}

var _ UserRepository = (*MemoryUsers)(nil)
var _ PasswordResetRepository = (*MemoryPasswordResets)(nil)

// NewMemoryUsers constructs an empty store.
func NewMemoryUsers() *MemoryUsers {
	return &MemoryUsers{
		users:      make(map[string]domain.User),
		emailIndex: make(map[string]string),
		now:        time.Now,
	}
}

func errDuplicateEmail() error {
	return &pgconn.PgError{Code: "23505", ConstraintName: "users_email_key", Message: "duplicate key value violates unique constraint"}
}

func (r *MemoryUsers) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := strings.ToLower(user.Email)
	if _, exists := r.emailIndex[key]; exists {
		return errDuplicateEmail()
	}
	now := r.now().UTC()
	user.ID = uuid.NewString()
	user.CreatedAt = now
	user.UpdatedAt = now
	r.users[user.ID] = *user
	r.emailIndex[key] = user.ID
	return nil
}

func (r *MemoryUsers) UpdateFields(_ context.Context, id string, upd UserUpdate) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	if upd.Email != nil {
		newKey := strings.ToLower(*upd.Email)
		oldKey := strings.ToLower(user.Email)
		if owner, taken := r.emailIndex[newKey]; taken && owner != id {
			return nil, errDuplicateEmail()
		}
		if newKey != oldKey {
			user.IsEmailVerified = false
		}
		delete(r.emailIndex, oldKey)
		r.emailIndex[newKey] = id
		user.Email = *upd.Email
	}
	if upd.FirstName != nil {
		user.FirstName = *upd.FirstName
	}
	if upd.LastName != nil {
		user.LastName = *upd.LastName
	}
	if upd.Role != nil {
		user.Role = *upd.Role
	}
	if upd.IsActive != nil {
		user.IsActive = *upd.IsActive
	}
	user.UpdatedAt = r.now().UTC()
	r.users[id] = user
	return &user, nil
}

func (r *MemoryUsers) UpdatePassword(_ context.Context, id, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return pgx.ErrNoRows
	}
	user.PasswordHash = passwordHash
	user.UpdatedAt = r.now().UTC()
	r.users[id] = user
	return nil
}

func (r *MemoryUsers) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return pgx.ErrNoRows
	}
	delete(r.emailIndex, strings.ToLower(user.Email))
	delete(r.users, id)
	return nil
}

func (r *MemoryUsers) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &user, nil
}

func (r *MemoryUsers) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.emailIndex[strings.ToLower(email)]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	user := r.users[id]
	return &user, nil
}

func (r *MemoryUsers) List(_ context.Context, filter UserFilter) ([]*domain.User, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	search := strings.ToLower(strings.TrimSpace(filter.Search))
	matched := make([]*domain.User, 0, len(r.users))
	for _, u := range r.users {
		name := strings.ToLower(u.FirstName + " " + u.LastName)
		if search != "" && !strings.Contains(strings.ToLower(u.Email), search) && !strings.Contains(name, search) {
			continue
		}
		if filter.Role != "" && u.Role != filter.Role {
			continue
		}
		if filter.IsActive != nil && u.IsActive != *filter.IsActive {
			continue
		}
		user := u
		matched = append(matched, &user)
	}
	less := memoryLess(filter.Sort)
	sort.Slice(matched, func(i, j int) bool {
		if c := less(matched[i], matched[j]); c != 0 {
			return c < 0
		}
		return matched[i].ID < matched[j].ID
	})

	total := len(matched)
	if filter.Offset >= total {
		return []*domain.User{}, total, nil
	}
	end := total
	if filter.Limit > 0 && filter.Offset+filter.Limit < end {
		end = filter.Offset + filter.Limit
	}
	return matched[filter.Offset:end], total, nil
}

// memoryLess mirrors orderBy for the in-memory store.
func memoryLess(key string) func(a, b *domain.User) int {
	desc := strings.HasPrefix(key, "-")
	field := strings.TrimPrefix(key, "-")
	if _, ok := sortColumns[field]; !ok {
		field, desc = "createdAt", true
	}
	cmp := func(a, b *domain.User) int {
		switch field {
		case "email":
			return strings.Compare(strings.ToLower(a.Email), strings.ToLower(b.Email))
		case "firstName":
			return strings.Compare(strings.ToLower(a.FirstName), strings.ToLower(b.FirstName))
		case "lastName":
			return strings.Compare(strings.ToLower(a.LastName), strings.ToLower(b.LastName))
		case "updatedAt":
			return a.UpdatedAt.Compare(b.UpdatedAt)
		case "lastLoginAt":
			return compareOptionalTime(a.LastLoginAt, b.LastLoginAt, desc)
		default:
			return a.CreatedAt.Compare(b.CreatedAt)
		}
	}
	return func(a, b *domain.User) int {
		c := cmp(a, b)
		if desc && field != "lastLoginAt" {
			return -c
		}
		return c
	}
}

// compareOptionalTime orders nil timestamps last in either direction.
func compareOptionalTime(a, b *time.Time, desc bool) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	case desc:
		return b.Compare(*a)
	default:
		return a.Compare(*b)
	}
}

func (r *MemoryUsers) TouchLastLogin(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return pgx.ErrNoRows
	}
	stamp := at.UTC()
	user.LastLoginAt = &stamp
	r.users[id] = user
	return nil
}

func (r *MemoryUsers) SetActive(_ context.Context, id string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return pgx.ErrNoRows
	}
	user.IsActive = active
	user.UpdatedAt = r.now().UTC()
	r.users[id] = user
	return nil
}

// MemoryPasswordResets is an in-memory PasswordResetRepository.
type MemoryPasswordResets struct {
	mu      sync.Mutex
	byToken map[string]domain.PasswordReset
	now     func() time.Time
}

// NewMemoryPasswordResets constructs an empty store.
func NewMemoryPasswordResets() *MemoryPasswordResets {
	return &MemoryPasswordResets{byToken: make(map[string]domain.PasswordReset), now: time.Now}
}

func (r *MemoryPasswordResets) Create(_ context.Context, reset *domain.PasswordReset) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reset.ID = uuid.NewString()
	reset.CreatedAt = r.now().UTC()
	r.byToken[reset.Token] = *reset
	return nil
}

func (r *MemoryPasswordResets) GetByToken(_ context.Context, token string) (*domain.PasswordReset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reset, ok := r.byToken[token]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &reset, nil
}

func (r *MemoryPasswordResets) MarkUsed(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for token, reset := range r.byToken {
		if reset.ID != id {
			continue
		}
		if reset.UsedAt != nil {
			return pgx.ErrNoRows
		}
		used := r.now().UTC()
		reset.UsedAt = &used
		r.byToken[token] = reset
		return nil
	}
	return pgx.ErrNoRows
}
