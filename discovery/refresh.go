package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// RefreshConfig controls a scheduled refresh fan-out.
type RefreshConfig struct {
	// Concurrency bounds how many threads run at once. Zero means 4.
	Concurrency int

	// BatchDelay spaces out run launches.
	BatchDelay time.Duration
}

// RefreshResult is the outcome of one user's scheduled run.
type RefreshResult struct {
	UserID  string
	Outcome Outcome
	Err     error
}

// Refresher re-prioritizes many users' plans with scheduled runs.
type Refresher struct {
	workflow *Workflow
	cfg      RefreshConfig
	logger   *slog.Logger
}

// NewRefresher creates a Refresher.
func NewRefresher(w *Workflow, cfg RefreshConfig, logger *slog.Logger) *Refresher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{workflow: w, cfg: cfg, logger: logger}
}

// RefreshAll starts a scheduled run for each user. A failing user does not
// stop the others; results are returned in input order and the error joins
// every per-user failure. Cancelling ctx stops launching new runs.
func (r *Refresher) RefreshAll(ctx context.Context, userIDs []string) ([]RefreshResult, error) {
	results := make([]RefreshResult, len(userIDs))

	var g errgroup.Group
	g.SetLimit(r.cfg.Concurrency)

	var mu sync.Mutex
	var errs []error

	for i, userID := range userIDs {
		if i > 0 && r.cfg.BatchDelay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(r.cfg.BatchDelay):
			}
		}
		if err := ctx.Err(); err != nil {
			for j := i; j < len(userIDs); j++ {
				results[j] = RefreshResult{UserID: userIDs[j], Err: err}
			}
			mu.Lock()
			errs = append(errs, fmt.Errorf("refresh stopped before %s: %w", userID, err))
			mu.Unlock()
			break
		}

		g.Go(func() error {
			out, err := r.workflow.Start(ctx, userID, RunConfig{Scheduled: true})
			results[i] = RefreshResult{UserID: userID, Outcome: out, Err: err}
			if err != nil {
				r.logger.Warn("scheduled refresh failed", "user_id", userID, "error", err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("refresh %s: %w", userID, err))
				mu.Unlock()
				return nil
			}
			r.logger.Debug("scheduled refresh done", "user_id", userID, "milestones", len(out.State.ActiveMilestones))
			return nil
		})
	}

	_ = g.Wait()
	return results, errors.Join(errs...)
}
