package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	httptransport "github.com/spec-kit/authgate/internal/api/http"
	"github.com/spec-kit/authgate/internal/api/http/handlers"
	"github.com/spec-kit/authgate/internal/auth"
	"github.com/spec-kit/authgate/internal/config"
	"github.com/spec-kit/authgate/internal/events"
	"github.com/spec-kit/authgate/internal/observability"
	"github.com/spec-kit/authgate/internal/persistence"
	"github.com/spec-kit/authgate/internal/pipeline"
	"github.com/spec-kit/authgate/internal/ratelimit"
	"github.com/spec-kit/authgate/internal/repository"
	"github.com/spec-kit/authgate/internal/service"
	"github.com/spec-kit/authgate/internal/validation"
	"github.com/spec-kit/authgate/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations && pg.Configured() {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	var userRepo repository.UserRepository
	var resetRepo repository.PasswordResetRepository
	if pg.Configured() {
		userRepo = repository.NewUserRepository(pg.PoolHandle())
		resetRepo = repository.NewPasswordResetRepository(pg.PoolHandle())
	} else {
		userRepo = repository.NewMemoryUsers()
		resetRepo = repository.NewMemoryPasswordResets()
	}

	var redis *persistence.Redis
	if cfg.RateLimit.Store == "redis" {
		redis = persistence.NewRedis(ctx, cfg.Redis, logger)
		defer redis.Close()
	}

	metrics := observability.NewMetrics(strings.ReplaceAll(cfg.App.Name, "-", "_"))
	dispatcher := events.NewInMemoryDispatcher()
	worker.StartAuditWorker(dispatcher, logger)

	tokens, err := auth.NewTokenService(auth.TokenConfig{
		Secret:     cfg.Auth.JWTSecret,
		Issuer:     cfg.Auth.JWTIssuer,
		AccessTTL:  cfg.Auth.AccessTokenTTL,
		RefreshTTL: cfg.Auth.RefreshTokenTTL,
	})
	if err != nil {
		logger.Fatal("failed to init token service", zap.Error(err))
	}

	registry, err := validation.LoadRegistry()
	if err != nil {
		logger.Fatal("failed to load validation schemas", zap.Error(err))
	}

	authService := service.NewAuthService(cfg.Auth, service.AuthDependencies{
		UserRepo:          userRepo,
		PasswordResetRepo: resetRepo,
		Tokens:            tokens,
		Dispatcher:        dispatcher,
		Logger:            logger,
	})
	userService := service.NewUserService(cfg.Auth, userRepo, dispatcher, logger)

	newLimiter := func(name string, rule config.LimitRule, message string) pipeline.Stage {
		var store ratelimit.Store = ratelimit.NewMemoryStore()
		if redis != nil {
			store = ratelimit.NewRedisStore(redis.Client, cfg.App.Name+":ratelimit")
		}
		limiter, err := ratelimit.New(ratelimit.Config{
			Name:    name,
			Limit:   rule.Max,
			Window:  rule.Window,
			Message: message,
		}, store, ratelimit.WithLogger(logger), ratelimit.WithRecorder(metrics))
		if err != nil {
			logger.Fatal("failed to init rate limiter", zap.String("limiter", name), zap.Error(err))
		}
		return ratelimit.NewStage(limiter, nil, dispatcher)
	}

	translator := httptransport.NewErrorTranslator(logger, metrics, !cfg.App.IsProduction())
	app := httptransport.NewApp(cfg.App.Name, translator)
	httptransport.RegisterMiddlewares(app, httptransport.MiddlewareConfig{
		Logger:       logger,
		Metrics:      metrics,
		CookieSecret: cfg.Auth.CookieSecret,
		CORS:         cfg.CORS,
	})

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health: handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, map[string]handlers.Dependency{
			"postgres": pg,
			"redis":    redis,
		}),
		Auth: handlers.NewAuthHandler(authService, handlers.CookieConfig{
			Secure: cfg.App.IsProduction(),
			MaxAge: cfg.Auth.AccessTokenTTL,
		}),
		Users:   handlers.NewUsersHandler(userService),
		Metrics: metrics.Handler(),
		Guards: httptransport.Guards{
			Base: pipeline.New().WithTimeout(cfg.App.RequestTimeout()).WithLogger(logger),
			General: newLimiter("general", cfg.RateLimit.General,
				"Too many requests from this IP, please try again later."),
			AuthLimit: newLimiter("auth", cfg.RateLimit.Auth,
				"Too many authentication attempts, please try again in "+humanize(cfg.RateLimit.Auth.Window)+"."),
			ResetLimit: newLimiter("password_reset", cfg.RateLimit.PasswordReset,
				"Too many password reset attempts, please try again in "+humanize(cfg.RateLimit.PasswordReset.Window)+"."),
			Validator:     validation.New(registry),
			Authenticator: auth.NewAuthenticator(tokens, userRepo, userRepo, logger, metrics),
		},
	})

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.App.Addr()), zap.String("env", cfg.App.Env))
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
}

// humanize renders a limiter window for retry guidance.
func humanize(d time.Duration) string {
	if d >= time.Hour && d%time.Hour == 0 {
		if h := int(d / time.Hour); h > 1 {
			return fmt.Sprintf("%d hours", h)
		}
		return "1 hour"
	}
	if m := int(d.Round(time.Minute) / time.Minute); m > 1 {
		return fmt.Sprintf("%d minutes", m)
	}
	return "1 minute"
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
