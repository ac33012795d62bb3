package stdiomux

import (
	"context"
	"fmt"
)

// WithMux manages the mux lifecycle with automatic cleanup.
//
// It creates a mux, starts it with the provided options, runs fn, and
// closes the mux afterwards. A partial start (some endpoints could not be
// attached) is logged and fn still runs; it can inspect Status to decide
// what to do. If Close fails, a warning is logged but does not override
// fn's error.
//
// Example usage:
//
//	err := stdiomux.WithMux(ctx, func(m stdiomux.Mux) error {
//	    results, err := m.Execute(ctx, steps, stdiomux.Sequential)
//	    if err != nil {
//	        return err
//	    }
//	    // process results...
//	    return nil
//	},
//	    stdiomux.WithLogger(log),
//	    stdiomux.WithEndpoints(alpha),
//	)
func WithMux(ctx context.Context, fn func(Mux) error, opts ...Option) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	options := applyOptions(opts)

	log := options.Logger
	if log == nil {
		log = NopLogger()
	}

	m := NewMux()

	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			log.Warn("failed to close mux", "error", closeErr)
		}
	}()

	if err := m.Start(ctx, opts...); err != nil {
		if len(m.Status()) == 0 {
			return fmt.Errorf("failed to start mux: %w", err)
		}

		log.Warn("mux started with unavailable endpoints", "error", err)
	}

	return fn(m)
}
