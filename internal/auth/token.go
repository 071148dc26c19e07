package auth

import (
	"errors"
	"fmt"
	"slices"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/spec-kit/authgate/internal/domain"
)

var (
	// ErrTokenMalformed covers undecodable tokens and claim sets missing required fields.
	ErrTokenMalformed = errors.New("token malformed")
	// ErrSignatureInvalid covers bad signatures and unexpected signing methods.
	ErrSignatureInvalid = errors.New("token signature invalid")
	// ErrAudienceMismatch covers issuer or audience tags that do not match the expected class.
	ErrAudienceMismatch = errors.New("token issuer or audience mismatch")
	// ErrTokenExpired is returned once now >= exp. There is no leeway.
	ErrTokenExpired = errors.New("token expired")
)

// Claims describes JWT payload.
type Claims struct {
	Email string      `json:"email"`
	Role  domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// Credential is a signed token and its expiry.
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

// TokenConfig configures a TokenService.
type TokenConfig struct {
	Secret     string
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// TokenService issues and verifies HS256 credentials. It holds no mutable
// state and is safe for concurrent use.
type TokenService struct {
	secret []byte
	issuer string
	ttl    map[domain.TokenClass]time.Duration
	now    func() time.Time
}

// NewTokenService builds a new service. An empty secret is a configuration error.
func NewTokenService(cfg TokenConfig) (*TokenService, error) {
	if cfg.Secret == "" {
		return nil, errors.New("token signing secret is empty")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("token issuer is empty")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 7 * 24 * time.Hour
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 30 * 24 * time.Hour
	}
	return &TokenService{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl: map[domain.TokenClass]time.Duration{
			domain.TokenClassAccess:  cfg.AccessTTL,
			domain.TokenClassRefresh: cfg.RefreshTTL,
		},
		now: time.Now,
	}, nil
}

// WithClock returns a copy of the service reading time from now.
func (ts *TokenService) WithClock(now func() time.Time) *TokenService {
	next := *ts
	next.now = now
	return &next
}

// TTL returns the configured lifetime of a credential class.
func (ts *TokenService) TTL(class domain.TokenClass) time.Duration {
	return ts.ttl[class]
}

func (ts *TokenService) audience(class domain.TokenClass) string {
	return ts.issuer + ":" + string(class)
}

// Issue signs a credential of the given class with its configured TTL.
func (ts *TokenService) Issue(class domain.TokenClass, user *domain.User) (Credential, error) {
	return ts.IssueWithTTL(class, user, ts.ttl[class])
}

// IssueWithTTL signs a credential of the given class expiring after ttl.
func (ts *TokenService) IssueWithTTL(class domain.TokenClass, user *domain.User, ttl time.Duration) (Credential, error) {
	if _, ok := ts.ttl[class]; !ok {
		return Credential{}, fmt.Errorf("unknown token class %q", class)
	}
	if ttl <= 0 {
		return Credential{}, errors.New("token ttl must be positive")
	}

	now := ts.now()
	expiresAt := now.Add(ttl)
	claims := &Claims{
		Email: user.Email,
		Role:  user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    ts.issuer,
			Subject:   user.ID,
			Audience:  jwt.ClaimStrings{ts.audience(class)},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(ts.secret)
	if err != nil {
		return Credential{}, err
	}
	return Credential{Token: tokenString, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// Verify checks the signature, then issuer and audience, then expiry, and
// returns the principal encoded in the token. The first failing check wins.
func (ts *TokenService) Verify(class domain.TokenClass, tokenStr string) (*domain.Principal, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return ts.secret, nil
	}, jwt.WithoutClaimsValidation())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, jwt.ErrTokenUnverifiable) {
			return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenMalformed
	}

	if claims.Issuer != ts.issuer || !slices.Contains(claims.Audience, ts.audience(class)) {
		return nil, ErrAudienceMismatch
	}

	if claims.ExpiresAt == nil || claims.IssuedAt == nil || claims.Subject == "" {
		return nil, ErrTokenMalformed
	}
	if !ts.now().Before(claims.ExpiresAt.Time) {
		return nil, ErrTokenExpired
	}

	return &domain.Principal{
		SubjectID: claims.Subject,
		Email:     claims.Email,
		Role:      claims.Role,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
