package http

import (
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/authgate/internal/observability"
	"github.com/spec-kit/authgate/pkg/apperr"
)

// ErrorEnvelope is the body of every failed response.
type ErrorEnvelope struct {
	Success    bool                `json:"success"`
	Message    string              `json:"message"`
	Errors     []apperr.FieldError `json:"errors,omitempty"`
	Stack      string              `json:"stack,omitempty"`
	StatusCode int                 `json:"-"`
}

// StatusFor maps every error kind to its HTTP status.
func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return fiber.StatusBadRequest
	case apperr.KindCredentialMissing, apperr.KindCredentialInvalid, apperr.KindAccountInactive:
		return fiber.StatusUnauthorized
	case apperr.KindRoleForbidden, apperr.KindOwnershipForbidden:
		return fiber.StatusForbidden
	case apperr.KindResourceNotFound:
		return fiber.StatusNotFound
	case apperr.KindDuplicateResource:
		return fiber.StatusConflict
	case apperr.KindRateLimited:
		return fiber.StatusTooManyRequests
	case apperr.KindTimeout:
		return fiber.StatusServiceUnavailable
	case apperr.KindInternal:
		return fiber.StatusInternalServerError
	default:
		return fiber.StatusInternalServerError
	}
}

// ErrorTranslator is the only place errors are shaped into responses.
type ErrorTranslator struct {
	logger      *zap.Logger
	metrics     *observability.Metrics
	exposeStack bool
}

// NewErrorTranslator builds the translator. Stack traces are included in
// responses only when exposeStack is set.
func NewErrorTranslator(logger *zap.Logger, metrics *observability.Metrics, exposeStack bool) *ErrorTranslator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ErrorTranslator{logger: logger, metrics: metrics, exposeStack: exposeStack}
}

// Translate converts err into an envelope.
func (t *ErrorTranslator) Translate(err error) ErrorEnvelope {
	env, _, _ := t.classify(err)
	return env
}

func (t *ErrorTranslator) classify(err error) (ErrorEnvelope, string, time.Duration) {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return ErrorEnvelope{Message: fiberErr.Message, StatusCode: fiberErr.Code}, "HTTP_" + strconv.Itoa(fiberErr.Code), 0
	}

	appErr := apperr.Classify(err)
	env := ErrorEnvelope{
		Message:    appErr.Message,
		Errors:     appErr.Fields,
		StatusCode: StatusFor(appErr.Kind),
	}
	if t.exposeStack && len(appErr.Stack) > 0 {
		env.Stack = string(appErr.Stack)
	}
	return env, appErr.Kind.String(), appErr.RetryAfter
}

// Handle is the fiber ErrorHandler.
func (t *ErrorTranslator) Handle(c *fiber.Ctx, err error) error {
	env, kind, retryAfter := t.classify(err)

	route := c.Path()
	if r := c.Route(); r != nil && r.Path != "" {
		route = r.Path
	}
	t.metrics.RecordError(route, kind)

	if env.StatusCode >= fiber.StatusInternalServerError {
		t.logger.Error("request failed", zap.String("path", c.Path()), zap.String("kind", kind), zap.Error(err))
	} else {
		t.logger.Debug("request rejected", zap.String("path", c.Path()), zap.String("kind", kind), zap.Error(err))
	}

	if env.StatusCode == fiber.StatusTooManyRequests && retryAfter > 0 {
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
	}
	return c.Status(env.StatusCode).JSON(env)
}
