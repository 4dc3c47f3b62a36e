package model

import (
	"sync"
	"time"
)

// ModelPricing defines the cost per 1M tokens for a model.
type ModelPricing struct {
	InputPer1M  float64 // USD per 1M input tokens
	OutputPer1M float64 // USD per 1M output tokens
}

// DefaultPricing is the static price table used by NewCostTracker.
// Models missing from the table are recorded at zero cost.
var DefaultPricing = map[string]ModelPricing{
	"gpt-4o":                     {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-4o-mini":                {InputPer1M: 0.15, OutputPer1M: 0.60},
	"gpt-4-turbo":                {InputPer1M: 10.00, OutputPer1M: 30.00},
	"claude-3-5-sonnet-20241022": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-5-haiku-20241022":  {InputPer1M: 0.80, OutputPer1M: 4.00},
	"claude-3-opus-20240229":     {InputPer1M: 15.00, OutputPer1M: 75.00},
	"gemini-1.5-pro":             {InputPer1M: 1.25, OutputPer1M: 5.00},
	"gemini-1.5-flash":           {InputPer1M: 0.075, OutputPer1M: 0.30},
	"gemini-2.5-flash":           {InputPer1M: 0.30, OutputPer1M: 2.50},
}

// Call is one accounted LLM call.
type Call struct {
	RunID        string
	NodeID       string
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Timestamp    time.Time
}

// CostTracker accumulates LLM spend per run.
//
// One tracker is shared by all threads of a process; totals are kept per run
// id so a status query can report what a single run spent.
//
// Example:
//
//	tracker := model.NewCostTracker()
//	tracker.Record(runID, "Search", out.Model, out.Usage)
//	fmt.Printf("run cost: $%.4f\n", tracker.RunCost(runID))
type CostTracker struct {
	mu      sync.RWMutex
	pricing map[string]ModelPricing
	calls   []Call
	byRun   map[string]float64
	byModel map[string]float64
	now     func() time.Time
}

// NewCostTracker creates a tracker using DefaultPricing.
func NewCostTracker() *CostTracker {
	pricing := make(map[string]ModelPricing, len(DefaultPricing))
	for k, v := range DefaultPricing {
		pricing[k] = v
	}
	return &CostTracker{
		pricing: pricing,
		byRun:   make(map[string]float64),
		byModel: make(map[string]float64),
		now:     time.Now,
	}
}

// Record accounts one call and returns its cost in USD. A nil tracker
// records nothing.
func (ct *CostTracker) Record(runID, nodeID, modelName string, usage Usage) float64 {
	if ct == nil {
		return 0
	}

	ct.mu.Lock()
	defer ct.mu.Unlock()

	pricing := ct.pricing[modelName]
	cost := float64(usage.InputTokens)/1_000_000.0*pricing.InputPer1M +
		float64(usage.OutputTokens)/1_000_000.0*pricing.OutputPer1M

	ct.calls = append(ct.calls, Call{
		RunID:        runID,
		NodeID:       nodeID,
		Model:        modelName,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		CostUSD:      cost,
		Timestamp:    ct.now(),
	})
	ct.byRun[runID] += cost
	ct.byModel[modelName] += cost
	return cost
}

// SetPricing overrides the price of a model.
func (ct *CostTracker) SetPricing(modelName string, inputPer1M, outputPer1M float64) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.pricing[modelName] = ModelPricing{InputPer1M: inputPer1M, OutputPer1M: outputPer1M}
}

// RunCost returns the USD spent by runID.
func (ct *CostTracker) RunCost(runID string) float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.byRun[runID]
}

// TotalCost returns the USD spent across all runs.
func (ct *CostTracker) TotalCost() float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	var total float64
	for _, c := range ct.byRun {
		total += c
	}
	return total
}

// CostByModel returns a copy of the spend per model.
func (ct *CostTracker) CostByModel() map[string]float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	costs := make(map[string]float64, len(ct.byModel))
	for m, c := range ct.byModel {
		costs[m] = c
	}
	return costs
}

// Calls returns a copy of the call history for runID, or of every call when
// runID is empty.
func (ct *CostTracker) Calls(runID string) []Call {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	out := make([]Call, 0, len(ct.calls))
	for _, c := range ct.calls {
		if runID == "" || c.RunID == runID {
			out = append(out, c)
		}
	}
	return out
}
