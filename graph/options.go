package graph

import (
	"fmt"
	"time"

	"go.jetify.com/typeid"
)

// Option is a functional option for configuring an Engine.
//
// Example:
//
//	engine := graph.New(reducer, st, emitter,
//	    graph.WithMaxSteps(20),
//	    graph.WithDefaultNodeTimeout(30*time.Second),
//	)
type Option func(*engineConfig) error

// Options holds the engine settings assembled from Option values.
type Options struct {
	// MaxSteps bounds the number of node executions in one invocation.
	// Zero means no limit.
	MaxSteps int

	// DefaultNodeTimeout applies to nodes without a NodePolicy timeout.
	// A node exceeding its timeout faults. Zero means no timeout.
	DefaultNodeTimeout time.Duration

	// RunWallClockBudget caps one Invoke or Resume call. Exceeding it aborts
	// between steps; committed checkpoints stay intact. Zero means no budget.
	RunWallClockBudget time.Duration

	// Metrics receives engine metrics when set.
	Metrics *PrometheusMetrics

	// NewRunID generates run identifiers. Defaults to a "run_" typeid.
	NewRunID func() string

	// Now returns the commit timestamp. Defaults to time.Now.
	Now func() time.Time
}

type engineConfig struct {
	opts Options
}

func defaultOptions() Options {
	return Options{
		NewRunID: newRunID,
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

func newRunID() string {
	id, err := typeid.WithPrefix("run")
	if err != nil {
		return fmt.Sprintf("run_%d", time.Now().UnixNano())
	}
	return id.String()
}

// WithMaxSteps sets the maximum number of node executions per invocation.
func WithMaxSteps(n int) Option {
	return func(cfg *engineConfig) error {
		if n < 0 {
			return &EngineError{Message: "max steps cannot be negative", Code: "INVALID_OPTION"}
		}
		cfg.opts.MaxSteps = n
		return nil
	}
}

// WithDefaultNodeTimeout sets the timeout for nodes without their own policy.
func WithDefaultNodeTimeout(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		if d < 0 {
			return &EngineError{Message: "node timeout cannot be negative", Code: "INVALID_OPTION"}
		}
		cfg.opts.DefaultNodeTimeout = d
		return nil
	}
}

// WithRunWallClockBudget sets the wall-clock budget of one invocation.
func WithRunWallClockBudget(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		if d < 0 {
			return &EngineError{Message: "wall clock budget cannot be negative", Code: "INVALID_OPTION"}
		}
		cfg.opts.RunWallClockBudget = d
		return nil
	}
}

// WithMetrics enables Prometheus metrics collection.
func WithMetrics(metrics *PrometheusMetrics) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.Metrics = metrics
		return nil
	}
}

// WithRunIDGenerator replaces the run id generator.
func WithRunIDGenerator(fn func() string) Option {
	return func(cfg *engineConfig) error {
		if fn == nil {
			return &EngineError{Message: "run id generator cannot be nil", Code: "INVALID_OPTION"}
		}
		cfg.opts.NewRunID = fn
		return nil
	}
}

// WithClock replaces the clock used for commit timestamps and fault entries.
func WithClock(now func() time.Time) Option {
	return func(cfg *engineConfig) error {
		if now == nil {
			return &EngineError{Message: "clock cannot be nil", Code: "INVALID_OPTION"}
		}
		cfg.opts.Now = now
		return nil
	}
}
