// Package pipeline runs an ordered, short-circuiting chain of request stages.
//
// Each stage inspects the immutable Request plus the accumulated State and
// returns an Outcome. The first rejecting stage stops the chain; its error is
// handed to the error translator unchanged.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/authgate/internal/domain"
	"github.com/spec-kit/authgate/pkg/apperr"
)

// State accumulates what earlier stages learned about a request.
type State struct {
	Principal *domain.Principal
	Payload   map[string]any
	Query     map[string]any
}

// Outcome is the tagged result of one stage.
type Outcome struct {
	err error
}

// Allow lets the request continue to the next stage.
func Allow() Outcome {
	return Outcome{}
}

// Reject halts the chain with err. A nil err is promoted to an internal error.
func Reject(err error) Outcome {
	if err == nil {
		err = apperr.Internal(nil)
	}
	return Outcome{err: err}
}

// Allowed reports whether the stage let the request through.
func (o Outcome) Allowed() bool {
	return o.err == nil
}

// Err returns the rejection cause, nil when allowed.
func (o Outcome) Err() error {
	return o.err
}

// Stage is one step of the request pipeline.
type Stage interface {
	Name() string
	Run(ctx context.Context, req *Request, st *State) Outcome
}

type stageFunc struct {
	name string
	fn   func(ctx context.Context, req *Request, st *State) Outcome
}

func (s stageFunc) Name() string { return s.name }

func (s stageFunc) Run(ctx context.Context, req *Request, st *State) Outcome {
	return s.fn(ctx, req, st)
}

// StageFunc adapts a function into a named Stage.
func StageFunc(name string, fn func(ctx context.Context, req *Request, st *State) Outcome) Stage {
	return stageFunc{name: name, fn: fn}
}

// Pipeline is an immutable ordered list of stages.
type Pipeline struct {
	stages  []Stage
	timeout time.Duration
	logger  *zap.Logger
}

// New builds a pipeline from stages in execution order.
func New(stages ...Stage) *Pipeline {
	return &Pipeline{stages: append([]Stage(nil), stages...), logger: zap.NewNop()}
}

// With returns a copy with extra stages appended.
func (p *Pipeline) With(stages ...Stage) *Pipeline {
	next := *p
	next.stages = make([]Stage, 0, len(p.stages)+len(stages))
	next.stages = append(next.stages, p.stages...)
	next.stages = append(next.stages, stages...)
	return &next
}

// WithTimeout bounds the stages; the handler inherits the same deadline
// through its user context. Zero disables it.
func (p *Pipeline) WithTimeout(d time.Duration) *Pipeline {
	next := *p
	next.timeout = d
	return &next
}

// WithLogger sets the logger used for stage rejections.
func (p *Pipeline) WithLogger(logger *zap.Logger) *Pipeline {
	next := *p
	if logger == nil {
		logger = zap.NewNop()
	}
	next.logger = logger
	return &next
}

// Stages returns the stage names in order.
func (p *Pipeline) Stages() []string {
	names := make([]string, 0, len(p.stages))
	for _, s := range p.stages {
		names = append(names, s.Name())
	}
	return names
}

type result struct {
	state *State
	err   error
}

// Run executes the stages for req. The chain races ctx: when ctx ends first
// Run returns a timeout error and the in-flight stage observes the cancelled ctx.
func (p *Pipeline) Run(ctx context.Context, req *Request) (*State, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Timeout(err)
	}

	done := make(chan result, 1)
	go func() {
		st, err := p.runStages(ctx, req)
		done <- result{state: st, err: err}
	}()

	select {
	case r := <-done:
		return r.state, r.err
	case <-ctx.Done():
		return nil, apperr.Timeout(ctx.Err())
	}
}

func (p *Pipeline) runStages(ctx context.Context, req *Request) (*State, error) {
	st := &State{}
	for _, stage := range p.stages {
		if err := ctx.Err(); err != nil {
			return nil, apperr.Timeout(err)
		}
		outcome := p.runStage(ctx, stage, req, st)
		if !outcome.Allowed() {
			p.logger.Debug("pipeline halted",
				zap.String("stage", stage.Name()),
				zap.String("path", req.Path),
				zap.Error(outcome.Err()),
			)
			return nil, outcome.Err()
		}
	}
	return st, nil
}

// runStage converts a panic in stage into an internal rejection. Stages run on
// a goroutine owned by Run, out of reach of the HTTP recover middleware.
func (p *Pipeline) runStage(ctx context.Context, stage Stage, req *Request, st *State) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			appErr := apperr.Internal(fmt.Errorf("panic in stage %s: %v", stage.Name(), r))
			p.logger.Error("stage panicked",
				zap.String("stage", stage.Name()),
				zap.String("path", req.Path),
				zap.Any("panic", r),
				zap.ByteString("stack", appErr.Stack),
			)
			outcome = Reject(appErr)
		}
	}()
	return stage.Run(ctx, req, st)
}
