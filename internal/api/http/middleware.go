package http

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/encryptcookie"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/spec-kit/authgate/internal/config"
	"github.com/spec-kit/authgate/internal/observability"
)

// MiddlewareConfig bundles dependencies for the global middleware chain.
type MiddlewareConfig struct {
	Logger       *zap.Logger
	Metrics      *observability.Metrics
	CookieSecret string
	CORS         config.CORSConfig
}

// RegisterMiddlewares attaches request logging, panic recovery, CORS,
// security headers and cookie signing.
func RegisterMiddlewares(app *fiber.App, cfg MiddlewareConfig) {
	app.Use(observability.RequestLogger(cfg.Logger, cfg.Metrics))
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(c *fiber.Ctx, e interface{}) {
			cfg.Logger.Error("panic recovered",
				zap.String("path", c.Path()),
				zap.String("panic", fmt.Sprint(e)),
				zap.ByteString("stack", debug.Stack()),
			)
		},
	}))
	app.Use(newCORS(cfg.CORS, cfg.Logger))
	app.Use(helmet.New(helmet.Config{
		XFrameOptions:  "DENY",
		ReferrerPolicy: "strict-origin-when-cross-origin",
	}))
	app.Use(encryptcookie.New(encryptcookie.Config{
		Key: CookieKey(cfg.CookieSecret),
	}))
}

// newCORS allows the configured origins with credentials. The wildcard origin
// is served without credentials, which browsers would refuse anyway.
func newCORS(cfg config.CORSConfig, logger *zap.Logger) fiber.Handler {
	allowed := make(map[string]struct{}, len(cfg.AllowOrigins))
	for _, o := range cfg.AllowOrigins {
		allowed[strings.TrimSuffix(strings.ToLower(o), "/")] = struct{}{}
	}
	corsCfg := cors.Config{
		AllowMethods: strings.Join([]string{
			fiber.MethodGet, fiber.MethodPost, fiber.MethodPut, fiber.MethodPatch, fiber.MethodDelete, fiber.MethodOptions,
		}, ","),
		AllowHeaders: "Origin,X-Requested-With,Content-Type,Accept,Authorization,Cache-Control,Pragma",
	}
	if cfg.AllowsAnyOrigin() {
		corsCfg.AllowOrigins = "*"
		return cors.New(corsCfg)
	}
	corsCfg.AllowCredentials = true
	corsCfg.AllowOriginsFunc = func(origin string) bool {
		if _, ok := allowed[strings.ToLower(origin)]; ok {
			return true
		}
		logger.Warn("cors origin blocked", zap.String("origin", origin))
		return false
	}
	return cors.New(corsCfg)
}

// CookieKey derives the AES-256 cookie key from an arbitrary secret.
func CookieKey(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// NewApp returns a fiber app whose errors go through translator.
func NewApp(name string, translator *ErrorTranslator) *fiber.App {
	return fiber.New(fiber.Config{
		AppName:               name,
		ErrorHandler:          translator.Handle,
		DisableStartupMessage: true,
	})
}
