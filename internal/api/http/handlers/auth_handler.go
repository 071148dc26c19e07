package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/authgate/internal/api/dto"
	"github.com/spec-kit/authgate/internal/pipeline"
	"github.com/spec-kit/authgate/internal/service"
)

// CookieConfig controls the credential cookie.
type CookieConfig struct {
	Secure bool
	MaxAge time.Duration
}

// AuthHandler exposes account endpoints.
type AuthHandler struct {
	auth   *service.AuthService
	cookie CookieConfig
}

// NewAuthHandler constructs handler.
func NewAuthHandler(authService *service.AuthService, cookie CookieConfig) *AuthHandler {
	return &AuthHandler{auth: authService, cookie: cookie}
}

// Register handles POST /auth/register.
func (h *AuthHandler) Register(c *fiber.Ctx, st *pipeline.State) error {
	session, err := h.auth.Register(c.UserContext(), service.RegisterInput{
		Email:     str(st.Payload, "email"),
		Password:  str(st.Payload, "password"),
		FirstName: str(st.Payload, "firstName"),
		LastName:  str(st.Payload, "lastName"),
	}, c.IP())
	if err != nil {
		return err
	}
	h.setCookie(c, session.Access.Token)
	return respond(c, http.StatusCreated, "User registered successfully", authResponse(session))
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx, st *pipeline.State) error {
	session, err := h.auth.Login(c.UserContext(), str(st.Payload, "email"), str(st.Payload, "password"), c.IP())
	if err != nil {
		return err
	}
	h.setCookie(c, session.Access.Token)
	return respond(c, http.StatusOK, "Login successful", authResponse(session))
}

// Refresh handles POST /auth/refresh.
func (h *AuthHandler) Refresh(c *fiber.Ctx, st *pipeline.State) error {
	session, err := h.auth.Refresh(c.UserContext(), str(st.Payload, "refreshToken"))
	if err != nil {
		return err
	}
	h.setCookie(c, session.Access.Token)
	return respond(c, http.StatusOK, "Token refreshed successfully", authResponse(session))
}

// Logout handles POST /auth/logout. Only the cookie is cleared; issued tokens
// stay valid until they expire.
func (h *AuthHandler) Logout(c *fiber.Ctx, _ *pipeline.State) error {
	c.Cookie(&fiber.Cookie{
		Name:     pipeline.CookieName,
		Value:    "",
		Path:     "/",
		HTTPOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: fiber.CookieSameSiteStrictMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
	return respond(c, http.StatusOK, "Logout successful", nil)
}

// Profile handles GET /auth/profile.
func (h *AuthHandler) Profile(c *fiber.Ctx, st *pipeline.State) error {
	p, err := principal(st)
	if err != nil {
		return err
	}
	user, err := h.auth.Profile(c.UserContext(), p.SubjectID)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "Profile retrieved successfully", fiber.Map{"user": dto.NewUserResponse(user)})
}

// Session handles GET /auth/session. Anonymous callers and callers with an
// unusable credential get authenticated=false instead of an error.
func (h *AuthHandler) Session(c *fiber.Ctx, st *pipeline.State) error {
	if st == nil || st.Principal == nil {
		return respond(c, http.StatusOK, "No active session", fiber.Map{"authenticated": false})
	}
	user, err := h.auth.Profile(c.UserContext(), st.Principal.SubjectID)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "Session active", fiber.Map{
		"authenticated": true,
		"user":          dto.NewUserResponse(user),
		"expiresAt":     st.Principal.ExpiresAt,
	})
}

// UpdateProfile handles PUT /auth/profile.
func (h *AuthHandler) UpdateProfile(c *fiber.Ctx, st *pipeline.State) error {
	p, err := principal(st)
	if err != nil {
		return err
	}
	user, err := h.auth.UpdateProfile(c.UserContext(), p.SubjectID, service.ProfileUpdate{
		FirstName: optionalStr(st.Payload, "firstName"),
		LastName:  optionalStr(st.Payload, "lastName"),
		Email:     optionalStr(st.Payload, "email"),
	})
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "Profile updated successfully", fiber.Map{"user": dto.NewUserResponse(user)})
}

// ChangePassword handles PUT /auth/change-password.
func (h *AuthHandler) ChangePassword(c *fiber.Ctx, st *pipeline.State) error {
	p, err := principal(st)
	if err != nil {
		return err
	}
	if err := h.auth.ChangePassword(c.UserContext(), p.SubjectID, str(st.Payload, "currentPassword"), str(st.Payload, "newPassword")); err != nil {
		return err
	}
	return respond(c, http.StatusOK, "Password changed successfully", nil)
}

// ForgotPassword handles POST /auth/forgot-password. The response does not
// reveal whether the account exists.
func (h *AuthHandler) ForgotPassword(c *fiber.Ctx, st *pipeline.State) error {
	if _, err := h.auth.RequestPasswordReset(c.UserContext(), str(st.Payload, "email"), c.IP()); err != nil {
		return err
	}
	return respond(c, http.StatusAccepted, "If the account exists, a password reset link has been sent", nil)
}

// ResetPassword handles POST /auth/reset-password.
func (h *AuthHandler) ResetPassword(c *fiber.Ctx, st *pipeline.State) error {
	if err := h.auth.ConfirmPasswordReset(c.UserContext(), str(st.Payload, "token"), str(st.Payload, "password")); err != nil {
		return err
	}
	return respond(c, http.StatusOK, "Password reset successfully", nil)
}

func (h *AuthHandler) setCookie(c *fiber.Ctx, token string) {
	c.Cookie(&fiber.Cookie{
		Name:     pipeline.CookieName,
		Value:    token,
		Path:     "/",
		HTTPOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: fiber.CookieSameSiteStrictMode,
		Expires:  time.Now().Add(h.cookie.MaxAge),
	})
}

func authResponse(s *service.Session) dto.AuthResponse {
	return dto.AuthResponse{
		Token:        s.Access.Token,
		RefreshToken: s.Refresh.Token,
		ExpiresAt:    s.Access.ExpiresAt,
		User:         dto.NewUserResponse(s.User),
	}
}
