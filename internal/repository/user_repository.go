package repository

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/authgate/internal/domain"
)

// UserFilter narrows a user listing. Zero values match every account.
type UserFilter struct {
	Search   string
	Role     domain.Role
	IsActive *bool
	Sort     string
	Limit    int
	Offset   int
}

// UserUpdate holds the columns to change; nil fields are left untouched.
// Changing the email clears the verification flag.
type UserUpdate struct {
	Email     *string
	FirstName *string
	LastName  *string
	Role      *domain.Role
	IsActive  *bool
}

// sortColumns maps accepted sort keys to ORDER BY clauses. A leading "-"
// sorts descending.
var sortColumns = map[string]string{
	"createdAt":   "created_at",
	"updatedAt":   "updated_at",
	"email":       "LOWER(email)",
	"firstName":   "LOWER(first_name)",
	"lastName":    "LOWER(last_name)",
	"lastLoginAt": "last_login_at",
}

// DefaultSort orders listings newest first.
const DefaultSort = "-createdAt"

// SortKeys returns the accepted sort keys, ascending and descending.
func SortKeys() []string {
	keys := make([]string, 0, len(sortColumns)*2)
	for k := range sortColumns {
		keys = append(keys, k, "-"+k)
	}
	sort.Strings(keys)
	return keys
}

func orderBy(key string) string {
	desc := strings.HasPrefix(key, "-")
	col, ok := sortColumns[strings.TrimPrefix(key, "-")]
	if !ok {
		col, desc = "created_at", true
	}
	if desc {
		return col + " DESC NULLS LAST, id"
	}
	return col + " ASC NULLS LAST, id"
}

// UserRepository defines persistence access for accounts.
// Missing rows are reported as pgx.ErrNoRows.
type UserRepository interface {
	domain.UserLookup
	domain.LastLoginRecorder
	Create(ctx context.Context, user *domain.User) error
	UpdateFields(ctx context.Context, id string, upd UserUpdate) (*domain.User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	Delete(ctx context.Context, id string) error
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	List(ctx context.Context, filter UserFilter) ([]*domain.User, int, error)
	SetActive(ctx context.Context, id string, active bool) error
}

type userRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a Postgres-backed implementation.
func NewUserRepository(pool *pgxpool.Pool) UserRepository {
	return &userRepository{pool: pool}
}

const userColumns = `id, email, password_hash, first_name, last_name, role, is_active,
        is_email_verified, last_login_at, created_at, updated_at`

func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	const query = `
        INSERT INTO users (email, password_hash, first_name, last_name, role, is_active)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id, created_at, updated_at`

	return r.pool.QueryRow(ctx, query,
		user.Email,
		user.PasswordHash,
		user.FirstName,
		user.LastName,
		user.Role,
		user.IsActive,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
}

func (r *userRepository) UpdateFields(ctx context.Context, id string, upd UserUpdate) (*domain.User, error) {
	query := `
        UPDATE users SET
            is_email_verified = CASE
                WHEN $1::text IS NOT NULL AND LOWER($1::text) <> LOWER(email) THEN FALSE
                ELSE is_email_verified END,
            email = COALESCE($1::text, email),
            first_name = COALESCE($2::text, first_name),
            last_name = COALESCE($3::text, last_name),
            role = COALESCE($4::text, role),
            is_active = COALESCE($5::boolean, is_active),
            updated_at = NOW()
        WHERE id=$6
        RETURNING ` + userColumns

	var role *string
	if upd.Role != nil {
		v := string(*upd.Role)
		role = &v
	}
	return scanUser(r.pool.QueryRow(ctx, query, upd.Email, upd.FirstName, upd.LastName, role, upd.IsActive, id))
}

func (r *userRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	const query = `UPDATE users SET password_hash=$1, updated_at=NOW() WHERE id=$2`
	cmd, err := r.pool.Exec(ctx, query, passwordHash, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *userRepository) Delete(ctx context.Context, id string) error {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id=$1`
	return scanUser(r.pool.QueryRow(ctx, query, id))
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE LOWER(email)=LOWER($1)`
	return scanUser(r.pool.QueryRow(ctx, query, email))
}

func (r *userRepository) List(ctx context.Context, filter UserFilter) ([]*domain.User, int, error) {
	search := "%" + strings.ToLower(strings.TrimSpace(filter.Search)) + "%"
	var role *string
	if filter.Role != "" {
		v := string(filter.Role)
		role = &v
	}

	const where = `
        WHERE (LOWER(email) LIKE $1 OR LOWER(first_name || ' ' || last_name) LIKE $1)
          AND ($2::text IS NULL OR role = $2::text)
          AND ($3::boolean IS NULL OR is_active = $3::boolean)`

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`+where, search, role, filter.IsActive).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + userColumns + ` FROM users` + where + `
        ORDER BY ` + orderBy(filter.Sort) + `
        LIMIT $4 OFFSET $5`
	rows, err := r.pool.Query(ctx, query, search, role, filter.IsActive, filter.Limit, filter.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	users := make([]*domain.User, 0, filter.Limit)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, user)
	}
	return users, total, rows.Err()
}

func (r *userRepository) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE users SET last_login_at=$1 WHERE id=$2`
	cmd, err := r.pool.Exec(ctx, query, at, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *userRepository) SetActive(ctx context.Context, id string, active bool) error {
	const query = `UPDATE users SET is_active=$1, updated_at=NOW() WHERE id=$2`
	cmd, err := r.pool.Exec(ctx, query, active, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var user domain.User
	if err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.FirstName,
		&user.LastName,
		&user.Role,
		&user.IsActive,
		&user.IsEmailVerified,
		&user.LastLoginAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &user, nil
}
