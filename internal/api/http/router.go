package http

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/spec-kit/authgate/internal/api/http/handlers"
	"github.com/spec-kit/authgate/internal/auth"
	"github.com/spec-kit/authgate/internal/domain"
	"github.com/spec-kit/authgate/internal/pipeline"
	"github.com/spec-kit/authgate/internal/validation"
)

// Guards are the request stages shared by the routes.
type Guards struct {
	// Base carries the timeout and logger every route pipeline inherits.
	Base          *pipeline.Pipeline
	General       pipeline.Stage
	AuthLimit     pipeline.Stage
	ResetLimit    pipeline.Stage
	Validator     *validation.Validator
	Authenticator *auth.Authenticator
}

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health  *handlers.HealthHandler
	Auth    *handlers.AuthHandler
	Users   *handlers.UsersHandler
	Metrics http.Handler
	Guards  Guards
}

// RegisterRoutes wires HTTP routes. Every pipeline runs limiter, validator,
// authentication and authorization in that order.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	g := cfg.Guards
	chain := func(stages ...pipeline.Stage) *pipeline.Pipeline {
		return g.Base.With(g.General).With(stages...)
	}
	body := g.Validator.Body
	authn := g.Authenticator.Required()

	app.Get("/health", cfg.Health.Live)
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics))
	}

	authGroup := app.Group("/auth")
	authGroup.Post("/register", chain(g.AuthLimit, body("register")).Handler(cfg.Auth.Register))
	authGroup.Post("/login", chain(g.AuthLimit, body("login")).Handler(cfg.Auth.Login))
	authGroup.Post("/refresh", chain(body("refresh")).Handler(cfg.Auth.Refresh))
	authGroup.Post("/forgot-password", chain(g.ResetLimit, body("forgotPassword")).Handler(cfg.Auth.ForgotPassword))
	authGroup.Post("/reset-password", chain(g.ResetLimit, body("resetPassword")).Handler(cfg.Auth.ResetPassword))

	authGroup.Get("/session", chain(g.Authenticator.Optional()).Handler(cfg.Auth.Session))
	authGroup.Post("/logout", chain(authn).Handler(cfg.Auth.Logout))
	authGroup.Get("/profile", chain(authn).Handler(cfg.Auth.Profile))
	authGroup.Put("/profile", chain(body("updateProfile"), authn).Handler(cfg.Auth.UpdateProfile))
	authGroup.Put("/change-password", chain(body("changePassword"), authn).Handler(cfg.Auth.ChangePassword))

	admin := auth.RequireRoles(domain.RoleAdmin)
	owner := auth.RequireOwnership(auth.OwnerFromParam("id"))

	users := app.Group("/users")
	users.Get("", chain(
		g.Validator.Query("listUsers"),
		authn,
		auth.RequireRoles(domain.RoleAdmin, domain.RoleModerator),
	).Handler(cfg.Users.List))
	users.Post("", chain(body("createUser"), authn, admin).Handler(cfg.Users.Create))
	users.Get("/:id", chain(authn, owner).Handler(cfg.Users.Get))
	users.Put("/:id", chain(body("updateUser"), authn, owner).Handler(cfg.Users.Update))
	users.Delete("/:id", chain(authn, admin).Handler(cfg.Users.Delete))
	users.Patch("/:id/status", chain(body("userStatus"), authn, admin).Handler(cfg.Users.SetStatus))
	users.Patch("/:id/activate", chain(authn, admin).Handler(cfg.Users.Activate))
	users.Patch("/:id/deactivate", chain(authn, admin).Handler(cfg.Users.Deactivate))
}
