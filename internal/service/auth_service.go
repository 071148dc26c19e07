package service

import (
	"context"
	"errors"
	"time"

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
	msgUserExists         = "User already exists with this email"
	msgEmailTaken         = "Email is already in use"
	msgInvalidCredentials = "Invalid credentials"
	msgWrongPassword      = "Current password is incorrect"
	msgInvalidRefresh     = "Invalid refresh token"
	msgInvalidReset       = "Invalid or expired reset token"
)

// Session is the credential pair handed out at login and registration.
type Session struct {
	User    *domain.User
	Access  auth.Credential
	Refresh auth.Credential
}

// RegisterInput carries a validated registration payload.
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// ProfileUpdate holds the optional profile fields to change.
type ProfileUpdate struct {
	FirstName *string
	LastName  *string
	Email     *string
}

// AuthService coordinates registration, login and password flows.
type AuthService struct {
	users      repository.UserRepository
	resets     repository.PasswordResetRepository
	tokens     *auth.TokenService
	dispatcher events.Dispatcher
	logger     *zap.Logger
	bcryptCost int
	resetTTL   time.Duration
	now        func() time.Time
}

// AuthDependencies encapsulates collaborators for the auth service.
type AuthDependencies struct {
	UserRepo          repository.UserRepository
	PasswordResetRepo repository.PasswordResetRepository
	Tokens            *auth.TokenService
	Dispatcher        events.Dispatcher
	Logger            *zap.Logger
}

// NewAuthService builds the service.
func NewAuthService(cfg config.AuthConfig, deps AuthDependencies) *AuthService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		users:      deps.UserRepo,
		resets:     deps.PasswordResetRepo,
		tokens:     deps.Tokens,
		dispatcher: deps.Dispatcher,
		logger:     logger,
		bcryptCost: cfg.BcryptCost,
		resetTTL:   cfg.PasswordResetTTL,
		now:        time.Now,
	}
}

// Register creates an active account with the user role and signs it in.
func (s *AuthService) Register(ctx context.Context, in RegisterInput, ip string) (*Session, error) {
	if _, err := s.users.GetByEmail(ctx, in.Email); err == nil {
		return nil, apperr.Duplicate(msgUserExists)
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.From(err)
	}

	hash, err := auth.HashPassword(in.Password, s.bcryptCost)
	if err != nil {
		return nil, apperr.From(err)
	}

	user := &domain.User{
		Email:        in.Email,
		PasswordHash: hash,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Role:         domain.RoleUser,
		IsActive:     true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if apperr.Is(apperr.Classify(err), apperr.KindDuplicateResource) {
			return nil, apperr.Duplicate(msgUserExists)
		}
		return nil, apperr.From(err)
	}

	session, err := s.issueSession(user)
	if err != nil {
		return nil, apperr.From(err)
	}
	s.publish(ctx, events.EventUserRegistered, user.ID, ip, nil)
	return session, nil
}

// Login checks the password of an active account and signs it in. Unknown
// accounts, inactive accounts and wrong passwords are indistinguishable.
func (s *AuthService) Login(ctx context.Context, email, password, ip string) (*Session, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.loginFailed(ctx, email, "unknown_user", ip)
			return nil, apperr.CredentialInvalid(msgInvalidCredentials, nil)
		}
		return nil, apperr.From(err)
	}
	if !user.IsActive {
		s.loginFailed(ctx, email, "inactive", ip)
		return nil, apperr.CredentialInvalid(msgInvalidCredentials, nil)
	}
	if err := auth.ComparePassword(user.PasswordHash, password); err != nil {
		s.loginFailed(ctx, email, "bad_password", ip)
		return nil, apperr.CredentialInvalid(msgInvalidCredentials, err)
	}

	now := s.now()
	if err := s.users.TouchLastLogin(ctx, user.ID, now); err != nil {
		s.logger.Warn("failed to update last login", zap.String("user_id", user.ID), zap.Error(err))
	} else {
		user.LastLoginAt = &now
	}

	session, err := s.issueSession(user)
	if err != nil {
		return nil, apperr.From(err)
	}
	s.publish(ctx, events.EventUserLoggedIn, user.ID, ip, nil)
	return session, nil
}

// Refresh exchanges a refresh credential for a new credential pair.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	principal, err := s.tokens.Verify(domain.TokenClassRefresh, refreshToken)
	if err != nil {
		return nil, apperr.CredentialInvalid(msgInvalidRefresh, err)
	}
	user, err := s.users.GetByID(ctx, principal.SubjectID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.CredentialInvalid(msgInvalidRefresh, err)
		}
		return nil, apperr.From(err)
	}
	if !user.IsActive {
		return nil, apperr.AccountInactive("User not found or inactive.")
	}
	return s.issueSession(user)
}

// Profile returns the account of userID.
func (s *AuthService) Profile(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, apperr.From(err)
	}
	return user, nil
}

// UpdateProfile applies the non-nil fields of upd. Only the profile columns
// are written, so a concurrent status change by an admin is never undone.
func (s *AuthService) UpdateProfile(ctx context.Context, userID string, upd ProfileUpdate) (*domain.User, error) {
	if upd.Email != nil {
		if other, err := s.users.GetByEmail(ctx, *upd.Email); err == nil && other.ID != userID {
			return nil, apperr.Duplicate(msgEmailTaken)
		} else if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.From(err)
		}
	}

	user, err := s.users.UpdateFields(ctx, userID, repository.UserUpdate{
		Email:     upd.Email,
		FirstName: upd.FirstName,
		LastName:  upd.LastName,
	})
	if err != nil {
		if apperr.Is(apperr.Classify(err), apperr.KindDuplicateResource) {
			return nil, apperr.Duplicate(msgEmailTaken)
		}
		return nil, apperr.From(err)
	}
	return user, nil
}

// ChangePassword verifies the current password before storing the new hash.
func (s *AuthService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return apperr.From(err)
	}
	if err := auth.ComparePassword(user.PasswordHash, currentPassword); err != nil {
		return apperr.CredentialInvalid(msgWrongPassword, err)
	}

	hash, err := auth.HashPassword(newPassword, s.bcryptCost)
	if err != nil {
		return apperr.Internal(err)
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return apperr.From(err)
	}
	s.publish(ctx, events.EventPasswordChanged, user.ID, "", nil)
	return nil
}

// RequestPasswordReset stores a one-time reset token for email. An unknown
// or inactive account yields (nil, nil) so callers cannot probe for accounts.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email, ip string) (*domain.PasswordReset, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperr.From(err)
	}
	if !user.IsActive {
		return nil, nil
	}

	reset := &domain.PasswordReset{
		UserID:    user.ID,
		Token:     uuid.NewString(),
		ExpiresAt: s.now().Add(s.resetTTL),
	}
	if err := s.resets.Create(ctx, reset); err != nil {
		return nil, apperr.From(err)
	}
	s.publish(ctx, events.EventPasswordResetRequested, user.ID, ip, nil)
	return reset, nil
}

// ConfirmPasswordReset consumes token and replaces the account password.
func (s *AuthService) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	reset, err := s.resets.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.Validation(msgInvalidReset, nil)
		}
		return apperr.From(err)
	}
	if reset.UsedAt != nil || !s.now().Before(reset.ExpiresAt) {
		return apperr.Validation(msgInvalidReset, nil)
	}

	// Claim the token first so two concurrent confirms cannot both succeed.
	if err := s.resets.MarkUsed(ctx, reset.ID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.Validation(msgInvalidReset, nil)
		}
		return apperr.From(err)
	}

	hash, err := auth.HashPassword(newPassword, s.bcryptCost)
	if err != nil {
		return apperr.Internal(err)
	}
	if err := s.users.UpdatePassword(ctx, reset.UserID, hash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.Validation(msgInvalidReset, nil)
		}
		return apperr.From(err)
	}
	s.publish(ctx, events.EventPasswordResetCompleted, reset.UserID, "", nil)
	return nil
}

func (s *AuthService) issueSession(user *domain.User) (*Session, error) {
	access, err := s.tokens.Issue(domain.TokenClassAccess, user)
	if err != nil {
		return nil, apperr.From(err)
	}
	refresh, err := s.tokens.Issue(domain.TokenClassRefresh, user)
	if err != nil {
		return nil, apperr.From(err)
	}
	return &Session{User: user, Access: access, Refresh: refresh}, nil
}

func (s *AuthService) loginFailed(ctx context.Context, email, reason, ip string) {
	s.publish(ctx, events.EventLoginFailed, "", ip, events.LoginFailedPayload{Email: email, Reason: reason})
}

func (s *AuthService) publish(ctx context.Context, eventType events.EventType, subjectID, ip string, payload interface{}) {
	if s.dispatcher == nil {
		return
	}
	ev := events.New(eventType, subjectID, payload)
	ev.IP = ip
	if err := s.dispatcher.Publish(ctx, ev); err != nil {
		s.logger.Warn("publish event", zap.String("event_type", string(eventType)), zap.Error(err))
	}
}
