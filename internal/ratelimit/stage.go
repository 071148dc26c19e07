package ratelimit

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/authgate/internal/events"
	"github.com/spec-kit/authgate/internal/pipeline"
	"github.com/spec-kit/authgate/pkg/apperr"
)

// ExemptPaths are never counted against any budget.
var ExemptPaths = map[string]struct{}{
	"/health":       {},
	"/health/live":  {},
	"/health/ready": {},
	"/api/health":   {},
}

// KeyFunc derives the bucket key of a request.
type KeyFunc func(req *pipeline.Request) string

// ByClientIP keys buckets by the caller address.
func ByClientIP(req *pipeline.Request) string {
	return req.ClientIP
}

// Stage adapts a limiter into a pipeline stage.
type Stage struct {
	limiter    *Limiter
	key        KeyFunc
	dispatcher events.Dispatcher
}

// NewStage builds the stage. A nil key defaults to ByClientIP.
func NewStage(limiter *Limiter, key KeyFunc, dispatcher events.Dispatcher) *Stage {
	if key == nil {
		key = ByClientIP
	}
	return &Stage{limiter: limiter, key: key, dispatcher: dispatcher}
}

func (s *Stage) Name() string {
	return "ratelimit-" + s.limiter.Name()
}

func (s *Stage) Run(ctx context.Context, req *pipeline.Request, _ *pipeline.State) pipeline.Outcome {
	if _, ok := ExemptPaths[req.Path]; ok {
		return pipeline.Allow()
	}

	key := s.key(req)
	res, err := s.limiter.Check(ctx, key)
	if err != nil {
		return pipeline.Reject(apperr.Internal(err))
	}
	if res.Allowed {
		return pipeline.Allow()
	}

	s.limiter.recordBlocked(key, req.Path)
	if s.dispatcher != nil {
		ev := events.New(events.EventRateLimited, "", events.RateLimitedPayload{Limiter: s.limiter.Name(), Path: req.Path})
		ev.IP = req.ClientIP
		if err := s.dispatcher.Publish(ctx, ev); err != nil {
			s.limiter.logger.Warn("publish rate limit event", zap.Error(err))
		}
	}
	return pipeline.Reject(apperr.RateLimited(s.limiter.Message(), res.RetryAfter))
}
