// Package fanout runs batches of tool calls across endpoints and reports one
// result per step, whatever happens to the others.
package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/wagiedev/stdiomux/internal/errors"
	internalmcp "github.com/wagiedev/stdiomux/internal/mcp"
	"github.com/wagiedev/stdiomux/internal/tracing"
)

// Mode selects how a batch is issued.
type Mode int

const (
	// Parallel issues every step at once.
	Parallel Mode = iota
	// Sequential issues each step after the previous one has finished.
	Sequential
)

func (m Mode) String() string {
	if m == Sequential {
		return "sequential"
	}

	return "parallel"
}

// ParseMode accepts "parallel" and "sequential". Empty means parallel.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "", "parallel":
		return Parallel, nil
	case "sequential":
		return Sequential, nil
	default:
		return Parallel, fmt.Errorf("unknown execution mode %q", s)
	}
}

// Result statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Step is one fully resolved call.
type Step struct {
	// ID names the step in its result. Empty IDs are filled in.
	ID        string         `json:"id,omitempty"`
	Endpoint  string         `json:"endpoint"`
	Method    string         `json:"method"`
	Arguments map[string]any `json:"arguments,omitempty"`

	// Timeout overrides the endpoint's call timeout.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Result is the outcome of one step.
type Result struct {
	StepID   string          `json:"step_id"`
	Endpoint string          `json:"endpoint"`
	Method   string          `json:"method"`
	Status   string          `json:"status"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
	Duration time.Duration   `json:"duration"`

	Err error `json:"-"`
}

// OK reports whether the step succeeded.
func (r *Result) OK() bool {
	return r.Status == StatusSuccess
}

// Target is a Ready endpoint.
type Target interface {
	CallTool(ctx context.Context, name string, arguments map[string]any, timeout time.Duration) (json.RawMessage, error)

	// CachedTools returns the tool catalog if one has been fetched, or nil.
	CachedTools() *internalmcp.Catalog
}

// Router resolves endpoint names. It reports false for names that are
// unknown or not Ready.
type Router interface {
	Route(endpoint string) (Target, bool)
}

// Options configures an Executor.
type Options struct {
	Logger *slog.Logger

	// ValidateArguments checks arguments against the cached input schema
	// of the tool before calling it.
	ValidateArguments bool

	// MaxConcurrency bounds in-flight steps in parallel mode. Zero means
	// unbounded.
	MaxConcurrency int
}

// Executor runs batches. It never retries a step.
type Executor struct {
	log    *slog.Logger
	router Router
	opts   Options
}

// NewExecutor creates an executor over router.
func NewExecutor(router Router, opts Options) *Executor {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Executor{
		log:    log.With("component", "fanout"),
		router: router,
		opts:   opts,
	}
}

// Execute runs steps and returns exactly one result per step, in input
// order.
func (x *Executor) Execute(ctx context.Context, steps []Step, mode Mode) []Result {
	batchID := ulid.Make().String()

	ctx, span := tracing.StartSpan(ctx, tracing.SpanBatch,
		attribute.String("batch_id", batchID),
		attribute.String("mode", mode.String()),
		attribute.Int("steps", len(steps)),
	)

	start := time.Now()
	results := make([]Result, len(steps))

	if mode == Sequential {
		for i := range steps {
			results[i] = x.run(ctx, steps[i])
		}
	} else {
		var g errgroup.Group

		if x.opts.MaxConcurrency > 0 {
			g.SetLimit(x.opts.MaxConcurrency)
		}

		for i := range steps {
			g.Go(func() error {
				results[i] = x.run(ctx, steps[i])

				return nil
			})
		}

		_ = g.Wait()
	}

	failed := 0

	for i := range results {
		if !results[i].OK() {
			failed++
		}
	}

	span.SetAttributes(attribute.Int("failed", failed))
	tracing.End(span, nil)

	x.log.Info("Batch finished", "batch_id", batchID, "mode", mode.String(),
		"steps", len(steps), "failed", failed, "duration", time.Since(start))

	return results
}

// run executes one step. Every error becomes part of the result.
func (x *Executor) run(ctx context.Context, step Step) Result {
	if step.ID == "" {
		step.ID = ulid.Make().String()
	}

	ctx, span := tracing.StartSpan(ctx, tracing.SpanStep,
		attribute.String("step_id", step.ID),
		attribute.String("endpoint", step.Endpoint),
		attribute.String("method", step.Method),
	)

	start := time.Now()
	raw, err := x.call(ctx, step)

	res := Result{
		StepID:   step.ID,
		Endpoint: step.Endpoint,
		Method:   step.Method,
		Duration: time.Since(start),
	}

	if err != nil {
		res.Status = StatusError
		res.Error = err.Error()
		res.Err = err

		x.log.Debug("Step failed", "step_id", step.ID, "endpoint", step.Endpoint,
			"method", step.Method, "error", err)
	} else {
		res.Status = StatusSuccess
		res.Result = raw
	}

	span.SetAttributes(attribute.String("status", res.Status))
	tracing.End(span, err)

	return res
}

func (x *Executor) call(ctx context.Context, step Step) (json.RawMessage, error) {
	target, ok := x.router.Route(step.Endpoint)
	if !ok {
		return nil, errors.ErrEndpointNotAvailable
	}

	if x.opts.ValidateArguments {
		if catalog := target.CachedTools(); catalog != nil {
			if err := catalog.Validate(step.Method, step.Arguments); err != nil {
				return nil, err
			}
		}
	}

	return target.CallTool(ctx, step.Method, step.Arguments, step.Timeout)
}
