package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/aidgraph/discovery"
	"github.com/dshills/aidgraph/graph/model"
)

const llmSystemPrompt = `You are a financial aid research assistant.
Given an anonymized student profile, list real scholarships, grants and aid programs the student may qualify for.
Reply with JSON only, in this shape:
{"opportunities": [{"id": "", "title": "", "provider": "", "url": "", "amount": 0, "deadline": "YYYY-MM-DD", "description": "", "tags": []}]}
Leave a field empty when unknown. Never invent deadlines or amounts.`

// LLMClient searches by prompting a chat model.
//
// Example:
//
//	client := search.NewLLMClient(openai.NewChatModel(key, "").WithJSONMode(), costs)
//	results, err := client.Search(ctx, query)
type LLMClient struct {
	model  model.ChatModel
	costs  *model.CostTracker
	retry  RetryPolicy
	newID  func() string
	maxOut int
}

// LLMOption configures an LLMClient.
type LLMOption func(*LLMClient)

// WithRetryPolicy replaces DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) LLMOption {
	return func(c *LLMClient) { c.retry = p }
}

// WithMaxResults caps the number of results returned. Zero keeps all.
func WithMaxResults(n int) LLMOption {
	return func(c *LLMClient) { c.maxOut = n }
}

// NewLLMClient creates an LLMClient. costs may be nil.
func NewLLMClient(m model.ChatModel, costs *model.CostTracker, opts ...LLMOption) *LLMClient {
	c := &LLMClient{
		model: m,
		costs: costs,
		retry: DefaultRetryPolicy(),
		newID: func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Search implements discovery.SearchClient.
func (c *LLMClient) Search(ctx context.Context, q discovery.Query) ([]discovery.Result, error) {
	profile, err := json.MarshalIndent(q, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}
	messages := []model.Message{
		{Role: model.RoleSystem, Content: llmSystemPrompt},
		{Role: model.RoleUser, Content: "Student profile:\n" + string(profile)},
	}

	var out model.ChatOut
	err = c.retry.Do(ctx, func(ctx context.Context) error {
		var callErr error
		out, callErr = c.model.Chat(ctx, messages)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	c.costs.Record(q.RunID, discovery.NodeSearch, out.Model, out.Usage)

	results, err := parseOpportunities(out.Text, c.newID)
	if err != nil {
		return nil, err
	}
	if c.maxOut > 0 && len(results) > c.maxOut {
		results = results[:c.maxOut]
	}
	return results, nil
}

type llmOpportunity struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Provider    string   `json:"provider"`
	URL         string   `json:"url"`
	Amount      float64  `json:"amount"`
	Deadline    string   `json:"deadline"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

// parseOpportunities accepts {"opportunities": [...]} or a bare array,
// optionally inside a Markdown code fence.
func parseOpportunities(text string, newID func() string) ([]discovery.Result, error) {
	body := stripFence(text)
	if body == "" {
		return nil, errors.New("empty model response")
	}

	var items []llmOpportunity
	if strings.HasPrefix(body, "[") {
		if err := json.Unmarshal([]byte(body), &items); err != nil {
			return nil, fmt.Errorf("decode model response: %w", err)
		}
	} else {
		var wrapped struct {
			Opportunities []llmOpportunity `json:"opportunities"`
		}
		if err := json.Unmarshal([]byte(body), &wrapped); err != nil {
			return nil, fmt.Errorf("decode model response: %w", err)
		}
		items = wrapped.Opportunities
	}

	results := make([]discovery.Result, 0, len(items))
	for _, it := range items {
		if strings.TrimSpace(it.Title) == "" {
			continue
		}
		r := discovery.Result{
			ID:          it.ID,
			Title:       it.Title,
			Provider:    it.Provider,
			URL:         it.URL,
			Amount:      it.Amount,
			Description: it.Description,
			Tags:        it.Tags,
		}
		if r.ID == "" {
			r.ID = newID()
		}
		if d, err := time.Parse(time.DateOnly, it.Deadline); err == nil {
			r.Deadline = &d
		}
		results = append(results, r)
	}
	return results, nil
}

func stripFence(text string) string {
	body := strings.TrimSpace(text)
	if !strings.HasPrefix(body, "```") {
		return body
	}
	body = strings.TrimPrefix(body, "```")
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	}
	body = strings.TrimSuffix(strings.TrimSpace(body), "```")
	return strings.TrimSpace(body)
}
