package google

import (
	"context"
	"errors"
	"testing"

	"github.com/google/generative-ai-go/genai"

	"github.com/dshills/aidgraph/graph/model"
)

func TestNewChatModel_RequiresKey(t *testing.T) {
	if _, err := NewChatModel(context.Background(), "", ""); err == nil {
		t.Error("expected error for missing API key")
	}
}

func TestChatModel_Chat(t *testing.T) {
	var gotSystem string
	var gotParts []genai.Part
	m := &ChatModel{
		modelName: "gemini-2.5-flash",
		generate: func(_ context.Context, system string, parts []genai.Part) (*genai.GenerateContentResponse, error) {
			gotSystem, gotParts = system, parts
			return &genai.GenerateContentResponse{
				Candidates: []*genai.Candidate{{
					Content: &genai.Content{Parts: []genai.Part{genai.Text(`{"opportunities":[]}`)}},
				}},
				UsageMetadata: &genai.UsageMetadata{PromptTokenCount: 40, CandidatesTokenCount: 4},
			}, nil
		},
	}

	out, err := m.Chat(context.Background(), []model.Message{
		{Role: model.RoleSystem, Content: "JSON only"},
		{Role: model.RoleUser, Content: "find aid"},
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if out.Text != `{"opportunities":[]}` || out.Model != "gemini-2.5-flash" {
		t.Errorf("unexpected output %+v", out)
	}
	if out.Usage.InputTokens != 40 || out.Usage.OutputTokens != 4 {
		t.Errorf("unexpected usage %+v", out.Usage)
	}
	if gotSystem != "JSON only" || len(gotParts) != 1 {
		t.Errorf("unexpected request: system=%q parts=%d", gotSystem, len(gotParts))
	}
}

func TestChatModel_SafetyBlock(t *testing.T) {
	m := &ChatModel{
		modelName: DefaultModel,
		generate: func(context.Context, string, []genai.Part) (*genai.GenerateContentResponse, error) {
			return &genai.GenerateContentResponse{
				Candidates: []*genai.Candidate{{
					FinishReason:  genai.FinishReasonSafety,
					SafetyRatings: []*genai.SafetyRating{{Category: genai.HarmCategoryHarassment, Blocked: true}},
				}},
			}, nil
		},
	}

	_, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "x"}})
	var pe *model.ProviderError
	if !errors.As(err, &pe) || pe.Code != "blocked" || pe.Retryable {
		t.Fatalf("expected non-retryable blocked error, got %v", err)
	}
	var safetyErr *SafetyFilterError
	if !errors.As(err, &safetyErr) || safetyErr.Reason() != "SAFETY" {
		t.Errorf("expected *SafetyFilterError, got %v", err)
	}
}

func TestChatModel_APIError(t *testing.T) {
	m := &ChatModel{
		modelName: DefaultModel,
		generate: func(context.Context, string, []genai.Part) (*genai.GenerateContentResponse, error) {
			return nil, errors.New("googleapi: Error 503: backend unavailable")
		},
	}
	_, err := m.Chat(context.Background(), nil)
	var pe *model.ProviderError
	if !errors.As(err, &pe) || !pe.Retryable {
		t.Errorf("expected retryable provider error, got %v", err)
	}
}
