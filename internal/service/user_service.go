package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/authgate/internal/auth"
	"github.com/spec-kit/authgate/internal/config"
	"github.com/spec-kit/authgate/internal/domain"
	"github.com/spec-kit/authgate/internal/events"
	"github.com/spec-kit/authgate/internal/repository"
	"github.com/spec-kit/authgate/pkg/apperr"
)

const (
	msgEmailInUse      = "Email already in use"
	msgPrivilegedField = "Only administrators can change role or account status"
)

// ListUsersInput carries validated listing parameters.
type ListUsersInput struct {
	Page     int
	Limit    int
	Search   string
	Role     domain.Role
	IsActive *bool
	Sort     string
}

// UserPage is one page of accounts.
type UserPage struct {
	Users []*domain.User
	Total int
	Page  int
	Limit int
}

// CreateUserInput carries an admin-created account.
type CreateUserInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Role      domain.Role
}

// UpdateUserInput holds the optional account fields to change. Role and
// IsActive are reserved for administrators.
type UpdateUserInput struct {
	Email     *string
	FirstName *string
	LastName  *string
	Role      *domain.Role
	IsActive  *bool
}

// UserService exposes account administration.
type UserService struct {
	users      repository.UserRepository
	dispatcher events.Dispatcher
	logger     *zap.Logger
	bcryptCost int
}

// NewUserService wires dependencies.
func NewUserService(cfg config.AuthConfig, users repository.UserRepository, dispatcher events.Dispatcher, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{users: users, dispatcher: dispatcher, logger: logger, bcryptCost: cfg.BcryptCost}
}

// List returns one page of accounts matching in.
func (s *UserService) List(ctx context.Context, in ListUsersInput) (*UserPage, error) {
	if in.Page < 1 {
		in.Page = 1
	}
	if in.Limit < 1 {
		in.Limit = 10
	}
	if in.Sort == "" {
		in.Sort = repository.DefaultSort
	}
	users, total, err := s.users.List(ctx, repository.UserFilter{
		Search:   in.Search,
		Role:     in.Role,
		IsActive: in.IsActive,
		Sort:     in.Sort,
		Limit:    in.Limit,
		Offset:   (in.Page - 1) * in.Limit,
	})
	if err != nil {
		return nil, apperr.From(err)
	}
	return &UserPage{Users: users, Total: total, Page: in.Page, Limit: in.Limit}, nil
}

// Get returns one account. Malformed ids are reported as not found.
func (s *UserService) Get(ctx context.Context, id string) (*domain.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperr.InvalidID(id)
	}
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.From(err)
	}
	return user, nil
}

// Create adds an active account with the requested role.
func (s *UserService) Create(ctx context.Context, actorID string, in CreateUserInput) (*domain.User, error) {
	if in.Role == "" {
		in.Role = domain.RoleUser
	}
	if !in.Role.IsValid() {
		return nil, apperr.Validation("Validation failed", []apperr.FieldError{{Field: "role", Message: "role is invalid"}})
	}

	hash, err := auth.HashPassword(in.Password, s.bcryptCost)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	user := &domain.User{
		Email:        in.Email,
		PasswordHash: hash,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Role:         in.Role,
		IsActive:     true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if apperr.Is(apperr.Classify(err), apperr.KindDuplicateResource) {
			return nil, apperr.Duplicate(msgUserExists)
		}
		return nil, apperr.From(err)
	}

	s.logger.Info("user created by admin", zap.String("user_id", user.ID), zap.String("actor_id", actorID))
	s.publish(ctx, events.EventUserCreated, actorID, user.ID, nil)
	return user, nil
}

// Update applies the non-nil fields of in to account id on behalf of actor.
// Only the given columns are written.
func (s *UserService) Update(ctx context.Context, actor *domain.Principal, id string, in UpdateUserInput) (*domain.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperr.InvalidID(id)
	}
	if (in.Role != nil || in.IsActive != nil) && !actor.IsAdmin() {
		return nil, apperr.RoleForbidden(msgPrivilegedField)
	}
	if in.Role != nil && !in.Role.IsValid() {
		return nil, apperr.Validation("Validation failed", []apperr.FieldError{{Field: "role", Message: "role is invalid"}})
	}

	if in.Email != nil {
		if other, err := s.users.GetByEmail(ctx, *in.Email); err == nil && other.ID != id {
			return nil, apperr.Duplicate(msgEmailInUse)
		} else if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.From(err)
		}
	}

	user, err := s.users.UpdateFields(ctx, id, repository.UserUpdate{
		Email:     in.Email,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Role:      in.Role,
		IsActive:  in.IsActive,
	})
	if err != nil {
		if apperr.Is(apperr.Classify(err), apperr.KindDuplicateResource) {
			return nil, apperr.Duplicate(msgEmailInUse)
		}
		return nil, apperr.From(err)
	}

	actorID := ""
	if actor != nil {
		actorID = actor.SubjectID
	}
	s.publish(ctx, events.EventUserUpdated, actorID, id, events.UserUpdatedPayload{Fields: in.fields()})
	return user, nil
}

// Delete removes account id.
func (s *UserService) Delete(ctx context.Context, actorID, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return apperr.InvalidID(id)
	}
	if err := s.users.Delete(ctx, id); err != nil {
		return apperr.From(err)
	}
	s.logger.Info("user deleted", zap.String("user_id", id), zap.String("actor_id", actorID))
	s.publish(ctx, events.EventUserDeleted, actorID, id, nil)
	return nil
}

// SetActive activates or deactivates an account. Deactivation takes effect on
// the account's next request even if its tokens are still valid.
func (s *UserService) SetActive(ctx context.Context, actorID, id string, active bool) (*domain.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperr.InvalidID(id)
	}
	if err := s.users.SetActive(ctx, id, active); err != nil {
		return nil, apperr.From(err)
	}
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.From(err)
	}

	s.publish(ctx, events.EventUserStatusChanged, actorID, id, events.UserStatusChangedPayload{IsActive: active})
	return user, nil
}

func (s *UserService) publish(ctx context.Context, eventType events.EventType, actorID, subjectID string, payload interface{}) {
	if s.dispatcher == nil {
		return
	}
	ev := events.New(eventType, subjectID, payload)
	ev.ActorID = actorID
	if err := s.dispatcher.Publish(ctx, ev); err != nil {
		s.logger.Warn("publish event", zap.String("event_type", string(eventType)), zap.Error(err))
	}
}

func (in UpdateUserInput) fields() []string {
	var fields []string
	if in.Email != nil {
		fields = append(fields, "email")
	}
	if in.FirstName != nil {
		fields = append(fields, "firstName")
	}
	if in.LastName != nil {
		fields = append(fields, "lastName")
	}
	if in.Role != nil {
		fields = append(fields, "role")
	}
	if in.IsActive != nil {
		fields = append(fields, "isActive")
	}
	return fields
}
