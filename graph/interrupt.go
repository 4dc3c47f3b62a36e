package graph

import "github.com/dshills/aidgraph/graph/store"

// Interrupt is the suspension payload a node returns to pause its run until
// an external decision arrives. It is stored in the checkpoint so a run stays
// suspended across process restarts.
type Interrupt = store.Interrupt

// Config is the explicit per-invocation configuration handed to every node.
//
// Nodes must read feature switches from Flags rather than from process
// environment, so the same inputs always produce the same behaviour.
type Config struct {
	// ThreadID identifies the checkpoint lineage. Required.
	ThreadID string

	// RunID names a new run. When empty the engine generates one.
	RunID string

	// Entry overrides the engine's start node for a new run.
	Entry string

	// ExpectNode, when set on Resume, must equal the suspended node.
	ExpectNode string

	// Flags carries boolean run switches such as "sensitive_band_mode".
	Flags map[string]bool

	resume    any
	hasResume bool
}

// Flag returns the named run switch, false when absent.
func (c Config) Flag(name string) bool {
	return c.Flags[name]
}

// ResumeValue returns the decision bound by Resume. ok is false unless the
// node is being re-entered after a suspension.
func (c Config) ResumeValue() (value any, ok bool) {
	return c.resume, c.hasResume
}

// WithResume returns a copy of c carrying value as the resume decision.
// The engine uses it when re-entering a suspended node; tests use it to drive
// a node directly.
func (c Config) WithResume(value any) Config {
	c.resume = value
	c.hasResume = true
	return c
}
