package auth

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/authgate/internal/domain"
	"github.com/spec-kit/authgate/internal/pipeline"
	"github.com/spec-kit/authgate/pkg/apperr"
)

const (
	msgNoToken      = "Access denied. No token provided."
	msgInvalidToken = "Invalid token."
	msgInactiveUser = "User not found or inactive."

	lastLoginTimeout = 5 * time.Second
)

// FailureRecorder receives the reason of every rejected credential.
type FailureRecorder interface {
	RecordAuthFailure(reason string)
}

// Authenticator resolves the caller of a request into a verified principal.
type Authenticator struct {
	tokens   *TokenService
	users    domain.UserLookup
	logins   domain.LastLoginRecorder
	logger   *zap.Logger
	failures FailureRecorder
	now      func() time.Time
}

// NewAuthenticator constructs the authentication stage factory.
func NewAuthenticator(tokens *TokenService, users domain.UserLookup, logins domain.LastLoginRecorder, logger *zap.Logger, failures FailureRecorder) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{tokens: tokens, users: users, logins: logins, logger: logger, failures: failures, now: time.Now}
}

// Required rejects requests without a valid credential for an active user.
func (a *Authenticator) Required() pipeline.Stage {
	return pipeline.StageFunc("authenticate", func(ctx context.Context, req *pipeline.Request, st *pipeline.State) pipeline.Outcome {
		principal, err := a.Authenticate(ctx, req)
		if err != nil {
			return pipeline.Reject(err)
		}
		st.Principal = principal
		return pipeline.Allow()
	})
}

// Optional attaches a principal when one can be verified and otherwise lets
// the request through anonymously.
func (a *Authenticator) Optional() pipeline.Stage {
	return pipeline.StageFunc("authenticate-optional", func(ctx context.Context, req *pipeline.Request, st *pipeline.State) pipeline.Outcome {
		if _, ok := ExtractToken(req); !ok {
			return pipeline.Allow()
		}
		if principal, err := a.Authenticate(ctx, req); err == nil {
			st.Principal = principal
		}
		return pipeline.Allow()
	})
}

// ExtractToken returns the bearer header token, or the cookie token when no
// header is present.
func ExtractToken(req *pipeline.Request) (string, bool) {
	if token, ok := req.BearerToken(); ok {
		return token, true
	}
	if req.CookieToken != "" {
		return req.CookieToken, true
	}
	return "", false
}

// Authenticate verifies the request credential and reloads its user.
func (a *Authenticator) Authenticate(ctx context.Context, req *pipeline.Request) (*domain.Principal, error) {
	token, ok := ExtractToken(req)
	if !ok {
		a.recordFailure("missing")
		return nil, apperr.CredentialMissing(msgNoToken)
	}

	claims, err := a.tokens.Verify(domain.TokenClassAccess, token)
	if err != nil {
		a.recordFailure("invalid")
		return nil, apperr.CredentialInvalid(msgInvalidToken, err)
	}

	user, err := a.users.GetByID(ctx, claims.SubjectID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || apperr.Is(err, apperr.KindResourceNotFound) {
			a.recordFailure("unknown_user")
			return nil, apperr.AccountInactive(msgInactiveUser)
		}
		return nil, err
	}
	if !user.IsActive {
		a.recordFailure("inactive")
		return nil, apperr.AccountInactive(msgInactiveUser)
	}

	a.touchLastLogin(ctx, user.ID)

	return &domain.Principal{
		SubjectID: user.ID,
		Email:     user.Email,
		Role:      user.Role,
		IssuedAt:  claims.IssuedAt,
		ExpiresAt: claims.ExpiresAt,
	}, nil
}

// touchLastLogin writes asynchronously; a failure is logged and never
// reaches the caller.
func (a *Authenticator) touchLastLogin(ctx context.Context, userID string) {
	if a.logins == nil {
		return
	}
	at := a.now()
	go func() {
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lastLoginTimeout)
		defer cancel()
		if err := a.logins.TouchLastLogin(writeCtx, userID, at); err != nil {
			a.logger.Warn("failed to update last login", zap.String("user_id", userID), zap.Error(err))
		}
	}()
}

func (a *Authenticator) recordFailure(reason string) {
	if a.failures != nil {
		a.failures.RecordAuthFailure(reason)
	}
}
