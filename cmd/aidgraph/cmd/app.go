package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dshills/aidgraph/discovery"
	"github.com/dshills/aidgraph/graph"
	"github.com/dshills/aidgraph/graph/emit"
	"github.com/dshills/aidgraph/graph/model"
	"github.com/dshills/aidgraph/graph/model/anthropic"
	"github.com/dshills/aidgraph/graph/model/google"
	"github.com/dshills/aidgraph/graph/model/openai"
	"github.com/dshills/aidgraph/graph/store"
	"github.com/dshills/aidgraph/internal/config"
	"github.com/dshills/aidgraph/internal/persist"
	"github.com/dshills/aidgraph/internal/profiles"
	"github.com/dshills/aidgraph/internal/telemetry"
	"github.com/dshills/aidgraph/scoring"
	"github.com/dshills/aidgraph/search"
)

// app holds the wired workflow and everything that must be closed with it.
type app struct {
	workflow *discovery.Workflow
	profiles *profiles.FileLoader
	costs    *model.CostTracker
	registry *prometheus.Registry

	closers []func(context.Context) error
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (a *app, err error) {
	a = &app{
		profiles: profiles.NewFileLoader(cfg.Profiles.Dir),
		costs:    model.NewCostTracker(),
		registry: prometheus.NewRegistry(),
	}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	st, err := store.Open[discovery.WorkflowState](cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return a, fmt.Errorf("open store: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return st.Close() })

	client, err := a.newSearchClient(ctx, cfg)
	if err != nil {
		return a, err
	}

	deps := discovery.Dependencies{
		Profiles: a.profiles,
		Search:   client,
		Trust:    scoring.KeywordTrust{},
		Need:     scoring.ProfileMatch{},
		Logger:   logger,
	}
	if cfg.Sink.Driver != "" {
		sink, err := persist.Open(ctx, cfg.Sink.Driver, cfg.Sink.DSN)
		if err != nil {
			return a, fmt.Errorf("open sink: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return sink.Close() })
		deps.Sink = sink
	}

	emitters := emit.NewMultiEmitter(emit.NewSlogEmitter(logger))
	if cfg.Tracing.Enabled {
		tp := telemetry.NewTracerProvider(cfg.Tracing.ServiceName, logger)
		a.closers = append(a.closers, tp.Shutdown)
		emitters = append(emitters, emit.NewOTelEmitter(tp.Tracer("aidgraph"), tp))
	}

	opts := []graph.Option{
		graph.WithMaxSteps(cfg.Engine.MaxSteps),
		graph.WithDefaultNodeTimeout(cfg.Engine.NodeTimeout),
		graph.WithRunWallClockBudget(cfg.Engine.RunBudget),
		graph.WithMetrics(graph.NewPrometheusMetrics(a.registry)),
	}
	a.workflow, err = discovery.New(st, deps, emitters, opts...)
	if err != nil {
		return a, err
	}
	return a, nil
}

func (a *app) newSearchClient(ctx context.Context, cfg *config.Config) (discovery.SearchClient, error) {
	policy := search.DefaultRetryPolicy()
	policy.MaxAttempts = cfg.Search.MaxAttempts
	if cfg.Search.BaseDelay > 0 {
		policy.BaseDelay = cfg.Search.BaseDelay
	}

	if cfg.Search.Backend == "http" {
		opts := []search.HTTPOption{search.WithHTTPRetryPolicy(policy)}
		if cfg.Search.Token != "" {
			opts = append(opts, search.WithHeader("Authorization", "Bearer "+cfg.Search.Token))
		}
		return search.NewHTTPClient(cfg.Search.Endpoint, opts...), nil
	}

	chat, err := a.newChatModel(ctx, cfg.LLM)
	if err != nil {
		return nil, err
	}
	return search.NewLLMClient(chat, a.costs,
		search.WithRetryPolicy(policy),
		search.WithMaxResults(cfg.Search.MaxResults),
	), nil
}

func (a *app) newChatModel(ctx context.Context, cfg config.LLMConfig) (model.ChatModel, error) {
	key := cfg.APIKey
	switch cfg.Provider {
	case "anthropic":
		if key == "" {
			key = os.Getenv("ANTHROPIC_API_KEY")
		}
		return anthropic.NewChatModel(key, cfg.Model), nil
	case "openai":
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		return openai.NewChatModel(key, cfg.Model).WithJSONMode(), nil
	case "google":
		if key == "" {
			key = os.Getenv("GOOGLE_API_KEY")
		}
		m, err := google.NewChatModel(ctx, key, cfg.Model)
		if err != nil {
			return nil, fmt.Errorf("google model: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return m.Close() })
		return m.WithJSONMode(), nil
	case "mock":
		return &model.MockChatModel{Responses: []model.ChatOut{{Model: "mock", Text: `{"opportunities": []}`}}}, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// withApp builds the app for one command and closes it afterwards.
func withApp(ctx context.Context, fn func(a *app) error) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if cerr := a.Close(shutdownCtx); cerr != nil {
			logger.Warn("shutdown", "error", cerr)
		}
	}()
	return fn(a)
}
