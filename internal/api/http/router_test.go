package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/authgate/internal/api/http/handlers"
	"github.com/spec-kit/authgate/internal/auth"
	"github.com/spec-kit/authgate/internal/config"
	"github.com/spec-kit/authgate/internal/domain"
	"github.com/spec-kit/authgate/internal/events"
	"github.com/spec-kit/authgate/internal/observability"
	"github.com/spec-kit/authgate/internal/pipeline"
	"github.com/spec-kit/authgate/internal/ratelimit"
	"github.com/spec-kit/authgate/internal/repository"
	"github.com/spec-kit/authgate/internal/service"
	"github.com/spec-kit/authgate/internal/validation"
)

const testPassword = "Str0ng!Pass"

type testServer struct {
	app    *fiber.App
	users  *repository.MemoryUsers
	tokens *auth.TokenService
}

func newLimiterStage(t *testing.T, name string, limit int, window time.Duration) pipeline.Stage {
	t.Helper()
	l, err := ratelimit.New(ratelimit.Config{Name: name, Limit: limit, Window: window, Message: "Too many " + name + " attempts, please try again later."}, ratelimit.NewMemoryStore())
	require.NoError(t, err)
	return ratelimit.NewStage(l, nil, nil)
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zap.NewNop()
	metrics := observability.NewMetrics("authgate_test")

	tokens, err := auth.NewTokenService(auth.TokenConfig{Secret: "test-secret", Issuer: "authgate-test", AccessTTL: time.Hour, RefreshTTL: 24 * time.Hour})
	require.NoError(t, err)
	users := repository.NewMemoryUsers()
	dispatcher := events.NewInMemoryDispatcher()

	authService := service.NewAuthService(config.AuthConfig{BcryptCost: bcrypt.MinCost, PasswordResetTTL: time.Hour}, service.AuthDependencies{
		UserRepo:          users,
		PasswordResetRepo: repository.NewMemoryPasswordResets(),
		Tokens:            tokens,
		Dispatcher:        dispatcher,
		Logger:            logger,
	})
	registry, err := validation.LoadRegistry()
	require.NoError(t, err)

	translator := NewErrorTranslator(logger, metrics, true)
	app := NewApp("authgate-test", translator)
	RegisterMiddlewares(app, MiddlewareConfig{
		Logger:       logger,
		Metrics:      metrics,
		CookieSecret: "cookie-secret",
		CORS:         config.CORSConfig{AllowOrigins: []string{"https://app.example.com"}},
	})
	RegisterRoutes(app, RouteConfig{
		Health:  handlers.NewHealthHandler("authgate", "test", nil),
		Auth:    handlers.NewAuthHandler(authService, handlers.CookieConfig{MaxAge: time.Hour}),
		Users:   handlers.NewUsersHandler(service.NewUserService(config.AuthConfig{BcryptCost: bcrypt.MinCost}, users, dispatcher, logger)),
		Metrics: metrics.Handler(),
		Guards: Guards{
			Base:          pipeline.New().WithTimeout(5 * time.Second).WithLogger(logger),
			General:       newLimiterStage(t, "general", 100, 15*time.Minute),
			AuthLimit:     newLimiterStage(t, "auth", 5, 15*time.Minute),
			ResetLimit:    newLimiterStage(t, "reset", 3, time.Hour),
			Validator:     validation.New(registry),
			Authenticator: auth.NewAuthenticator(tokens, users, users, logger, metrics),
		},
	})
	return &testServer{app: app, users: users, tokens: tokens}
}

func (s *testServer) seedUser(t *testing.T, email string, role domain.Role) *domain.User {
	t.Helper()
	hash, err := auth.HashPassword(testPassword, bcrypt.MinCost)
	require.NoError(t, err)
	user := &domain.User{Email: email, PasswordHash: hash, FirstName: "Ada", LastName: "Lovelace", Role: role, IsActive: true}
	require.NoError(t, s.users.Create(context.Background(), user))
	return user
}

func (s *testServer) accessToken(t *testing.T, user *domain.User) string {
	t.Helper()
	cred, err := s.tokens.Issue(domain.TokenClassAccess, user)
	require.NoError(t, err)
	return cred.Token
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Errors  []struct {
		Field   string `json:"field"`
		Message string `json:"message"`
	} `json:"errors"`
}

func (s *testServer) do(t *testing.T, method, path, body string, headers map[string]string) (*http.Response, envelope) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()

	var env envelope
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	}
	return resp, env
}

func bearer(token string) map[string]string {
	return map[string]string{fiber.HeaderAuthorization: "Bearer " + token}
}

func TestRegisterWeakPasswordIsRejected(t *testing.T) {
	s := newTestServer(t)

	resp, env := s.do(t, http.MethodPost, "/auth/register",
		`{"email":"a@b.com","password":"Weak1","firstName":"Ada","lastName":"Lovelace"}`, nil)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.False(t, env.Success)
	require.NotEmpty(t, env.Errors)
	for _, e := range env.Errors {
		assert.Equal(t, "password", e.Field)
	}
}

func TestRegisterAndUseCookie(t *testing.T) {
	s := newTestServer(t)

	resp, env := s.do(t, http.MethodPost, "/auth/register",
		`{"email":"A@B.com","password":"`+testPassword+`","firstName":"Ada","lastName":"Lovelace","role":"admin"}`, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var data struct {
		Token string `json:"token"`
		User  struct {
			Email string `json:"email"`
			Role  string `json:"role"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.NotEmpty(t, data.Token)
	assert.Equal(t, "a@b.com", data.User.Email)
	assert.Equal(t, "user", data.User.Role, "self registration never grants elevated roles")

	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == pipeline.CookieName {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	assert.NotEqual(t, data.Token, cookie.Value, "cookie value is encrypted")

	resp, _ = s.do(t, http.MethodGet, "/auth/profile", "", map[string]string{"Cookie": cookie.Name + "=" + cookie.Value})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, env = s.do(t, http.MethodGet, "/auth/profile", "", map[string]string{"Cookie": cookie.Name + "=" + data.Token})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "unsigned cookie is discarded")
	assert.Equal(t, "Access denied. No token provided.", env.Message)

	resp, env = s.do(t, http.MethodPost, "/auth/register",
		`{"email":"a@b.com","password":"`+testPassword+`","firstName":"Ada","lastName":"Lovelace"}`, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "User already exists with this email", env.Message)
}

func TestLoginBruteForceIsRateLimited(t *testing.T) {
	s := newTestServer(t)
	s.seedUser(t, "a@b.com", domain.RoleUser)

	for i := 0; i < 5; i++ {
		resp, env := s.do(t, http.MethodPost, "/auth/login", `{"email":"a@b.com","password":"Wrong!Pass1"}`, nil)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode, "attempt %d", i+1)
		assert.Equal(t, "Invalid credentials", env.Message)
	}

	resp, env := s.do(t, http.MethodPost, "/auth/login", `{"email":"a@b.com","password":"`+testPassword+`"}`, nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Contains(t, env.Message, "Too many auth attempts")
	assert.NotEmpty(t, resp.Header.Get(fiber.HeaderRetryAfter))
}

func TestDeactivatedUserTokenIsRejected(t *testing.T) {
	s := newTestServer(t)
	user := s.seedUser(t, "a@b.com", domain.RoleUser)
	token := s.accessToken(t, user)

	resp, _ := s.do(t, http.MethodGet, "/auth/profile", "", bearer(token))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, s.users.SetActive(context.Background(), user.ID, false))

	resp, env := s.do(t, http.MethodGet, "/auth/profile", "", bearer(token))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "User not found or inactive.", env.Message)
}

func TestProtectedRoutes(t *testing.T) {
	s := newTestServer(t)
	user := s.seedUser(t, "user@b.com", domain.RoleUser)
	other := s.seedUser(t, "other@b.com", domain.RoleUser)
	admin := s.seedUser(t, "admin@b.com", domain.RoleAdmin)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		token  string
		status int
	}{
		{name: "no token", method: http.MethodGet, path: "/auth/profile", status: http.StatusUnauthorized},
		{name: "garbage token", method: http.MethodGet, path: "/auth/profile", token: "garbage", status: http.StatusUnauthorized},
		{name: "user lists users", method: http.MethodGet, path: "/users", token: s.accessToken(t, user), status: http.StatusForbidden},
		{name: "admin lists users", method: http.MethodGet, path: "/users?limit=2", token: s.accessToken(t, admin), status: http.StatusOK},
		{name: "bad query", method: http.MethodGet, path: "/users?limit=500", token: s.accessToken(t, admin), status: http.StatusBadRequest},
		{name: "owner reads self", method: http.MethodGet, path: "/users/" + user.ID, token: s.accessToken(t, user), status: http.StatusOK},
		{name: "user reads other", method: http.MethodGet, path: "/users/" + other.ID, token: s.accessToken(t, user), status: http.StatusForbidden},
		{name: "admin reads other", method: http.MethodGet, path: "/users/" + other.ID, token: s.accessToken(t, admin), status: http.StatusOK},
		{name: "malformed id", method: http.MethodGet, path: "/users/not-a-uuid", token: s.accessToken(t, admin), status: http.StatusNotFound},
		{name: "user changes status", method: http.MethodPatch, path: "/users/" + other.ID + "/status", body: `{"isActive":false}`, token: s.accessToken(t, user), status: http.StatusForbidden},
		{name: "admin changes status", method: http.MethodPatch, path: "/users/" + other.ID + "/status", body: `{"isActive":false}`, token: s.accessToken(t, admin), status: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var headers map[string]string
			if tt.token != "" {
				headers = bearer(tt.token)
			}
			resp, env := s.do(t, tt.method, tt.path, tt.body, headers)
			assert.Equal(t, tt.status, resp.StatusCode, env.Message)
			assert.Equal(t, tt.status < 400, env.Success)
		})
	}
}

func TestRefreshTokenIsNotAnAccessToken(t *testing.T) {
	s := newTestServer(t)
	user := s.seedUser(t, "a@b.com", domain.RoleUser)
	refresh, err := s.tokens.Issue(domain.TokenClassRefresh, user)
	require.NoError(t, err)

	resp, _ := s.do(t, http.MethodGet, "/auth/profile", "", bearer(refresh.Token))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, env := s.do(t, http.MethodPost, "/auth/refresh", `{"refreshToken":"`+refresh.Token+`"}`, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, env.Success)
}

func TestLogoutClearsCookie(t *testing.T) {
	s := newTestServer(t)
	user := s.seedUser(t, "a@b.com", domain.RoleUser)

	resp, env := s.do(t, http.MethodPost, "/auth/logout", "", bearer(s.accessToken(t, user)))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Logout successful", env.Message)

	var cleared bool
	for _, c := range resp.Cookies() {
		if c.Name == pipeline.CookieName && c.Expires.Before(time.Now()) {
			cleared = true
		}
	}
	assert.True(t, cleared)
}

func TestPasswordResetDoesNotRevealAccounts(t *testing.T) {
	s := newTestServer(t)
	s.seedUser(t, "a@b.com", domain.RoleUser)

	for _, email := range []string{"a@b.com", "ghost@b.com"} {
		resp, env := s.do(t, http.MethodPost, "/auth/forgot-password", `{"email":"`+email+`"}`, nil)
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
		assert.True(t, env.Success)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	for i := 0; i < 120; i++ {
		resp, _ := s.do(t, http.MethodGet, "/health/ready", "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	raw, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(raw), "authgate_test_http_requests_total")
}

func TestSecurityHeadersAndUnknownRoute(t *testing.T) {
	s := newTestServer(t)

	resp, env := s.do(t, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.False(t, env.Success)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)

	preflight := func(origin string) *http.Response {
		req := httptest.NewRequest(http.MethodOptions, "/auth/login", nil)
		req.Header.Set(fiber.HeaderOrigin, origin)
		req.Header.Set(fiber.HeaderAccessControlRequestMethod, http.MethodPost)
		resp, err := s.app.Test(req, -1)
		require.NoError(t, err)
		return resp
	}

	resp := preflight("https://app.example.com")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://app.example.com", resp.Header.Get(fiber.HeaderAccessControlAllowOrigin))
	assert.Equal(t, "true", resp.Header.Get(fiber.HeaderAccessControlAllowCredentials))
	assert.Contains(t, resp.Header.Get(fiber.HeaderAccessControlAllowMethods), http.MethodPatch)

	resp = preflight("https://evil.example.com")
	assert.Empty(t, resp.Header.Get(fiber.HeaderAccessControlAllowOrigin))

	resp, _ = s.do(t, http.MethodGet, "/health", "", map[string]string{fiber.HeaderOrigin: "https://app.example.com"})
	assert.Equal(t, "https://app.example.com", resp.Header.Get(fiber.HeaderAccessControlAllowOrigin))
}

func TestSessionIsOptionallyAuthenticated(t *testing.T) {
	s := newTestServer(t)
	user := s.seedUser(t, "a@b.com", domain.RoleUser)

	type sessionData struct {
		Authenticated bool `json:"authenticated"`
		User          *struct {
			Email string `json:"email"`
		} `json:"user"`
	}

	tests := []struct {
		name    string
		headers map[string]string
		authed  bool
	}{
		{name: "anonymous"},
		{name: "garbage token", headers: bearer("garbage")},
		{name: "valid token", headers: bearer(s.accessToken(t, user)), authed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, env := s.do(t, http.MethodGet, "/auth/session", "", tt.headers)
			require.Equal(t, http.StatusOK, resp.StatusCode, env.Message)
			var data sessionData
			require.NoError(t, json.Unmarshal(env.Data, &data))
			assert.Equal(t, tt.authed, data.Authenticated)
			if tt.authed {
				require.NotNil(t, data.User)
				assert.Equal(t, "a@b.com", data.User.Email)
			}
		})
	}

	require.NoError(t, s.users.SetActive(context.Background(), user.ID, false))
	_, env := s.do(t, http.MethodGet, "/auth/session", "", bearer(s.accessToken(t, user)))
	var data sessionData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.False(t, data.Authenticated, "inactive accounts have no session")
}

func TestUserAdministration(t *testing.T) {
	s := newTestServer(t)
	user := s.seedUser(t, "user@b.com", domain.RoleUser)
	other := s.seedUser(t, "other@b.com", domain.RoleUser)
	admin := s.seedUser(t, "admin@b.com", domain.RoleAdmin)
	userToken := s.accessToken(t, user)
	adminToken := s.accessToken(t, admin)

	created := `{"email":"new@b.com","password":"` + testPassword + `","firstName":"Alan","lastName":"Turing","role":"moderator"}`
	resp, env := s.do(t, http.MethodPost, "/users", created, bearer(userToken))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, env.Message)

	resp, env = s.do(t, http.MethodPost, "/users", created, bearer(adminToken))
	require.Equal(t, http.StatusCreated, resp.StatusCode, env.Message)
	assert.Equal(t, "User created successfully", env.Message)
	var data struct {
		User struct {
			ID       string `json:"id"`
			Role     string `json:"role"`
			IsActive bool   `json:"isActive"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "moderator", data.User.Role)
	newID := data.User.ID

	resp, env = s.do(t, http.MethodPost, "/users", created, bearer(adminToken))
	assert.Equal(t, http.StatusConflict, resp.StatusCode, env.Message)

	tests := []struct {
		name    string
		method  string
		path    string
		body    string
		token   string
		status  int
		message string
	}{
		{name: "owner renames self", method: http.MethodPut, path: "/users/" + user.ID, body: `{"firstName":"Grace"}`, token: userToken, status: http.StatusOK, message: "User updated successfully"},
		{name: "owner elevates self", method: http.MethodPut, path: "/users/" + user.ID, body: `{"role":"admin"}`, token: userToken, status: http.StatusForbidden},
		{name: "user updates other", method: http.MethodPut, path: "/users/" + other.ID, body: `{"firstName":"Eve"}`, token: userToken, status: http.StatusForbidden},
		{name: "email in use", method: http.MethodPut, path: "/users/" + user.ID, body: `{"email":"other@b.com"}`, token: adminToken, status: http.StatusConflict, message: "Email already in use"},
		{name: "invalid role", method: http.MethodPut, path: "/users/" + user.ID, body: `{"role":"root"}`, token: adminToken, status: http.StatusBadRequest},
		{name: "user deactivates other", method: http.MethodPatch, path: "/users/" + other.ID + "/deactivate", token: userToken, status: http.StatusForbidden},
		{name: "admin deactivates", method: http.MethodPatch, path: "/users/" + other.ID + "/deactivate", token: adminToken, status: http.StatusOK, message: "User deactivated successfully"},
		{name: "admin activates", method: http.MethodPatch, path: "/users/" + other.ID + "/activate", token: adminToken, status: http.StatusOK, message: "User activated successfully"},
		{name: "filtered list", method: http.MethodGet, path: "/users?role=moderator&isActive=true&sort=email", token: adminToken, status: http.StatusOK},
		{name: "unknown sort", method: http.MethodGet, path: "/users?sort=password", token: adminToken, status: http.StatusBadRequest},
		{name: "user deletes", method: http.MethodDelete, path: "/users/" + newID, token: userToken, status: http.StatusForbidden},
		{name: "admin deletes", method: http.MethodDelete, path: "/users/" + newID, token: adminToken, status: http.StatusOK, message: "User deleted successfully"},
		{name: "deleted is gone", method: http.MethodGet, path: "/users/" + newID, token: adminToken, status: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, env := s.do(t, tt.method, tt.path, tt.body, bearer(tt.token))
			assert.Equal(t, tt.status, resp.StatusCode, env.Message)
			if tt.message != "" {
				assert.Equal(t, tt.message, env.Message)
			}
		})
	}

	renamed, err := s.users.GetByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Grace", renamed.FirstName)
	assert.Equal(t, domain.RoleUser, renamed.Role)
}
