package openai

import (
	"context"
	"errors"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/dshills/aidgraph/graph/model"
)

type fakeCompletions struct {
	params openai.ChatCompletionNewParams
	resp   *openai.ChatCompletion
	err    error
}

func (f *fakeCompletions) New(_ context.Context, body openai.ChatCompletionNewParams, _ ...option.RequestOption) (*openai.ChatCompletion, error) {
	f.params = body
	return f.resp, f.err
}

func TestNewChatModel(t *testing.T) {
	m := NewChatModel("sk-test", "")
	if m.modelName != DefaultModel {
		t.Errorf("expected default model, got %q", m.modelName)
	}
	if m.jsonMode {
		t.Error("JSON mode should be off by default")
	}
	if !m.WithJSONMode().jsonMode {
		t.Error("WithJSONMode should enable JSON mode")
	}
}

func TestChatModel_Chat(t *testing.T) {
	fake := &fakeCompletions{resp: &openai.ChatCompletion{
		Model: "gpt-4o-mini",
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: `{"opportunities":[]}`}},
		},
		Usage: openai.CompletionUsage{PromptTokens: 50, CompletionTokens: 6},
	}}
	m := &ChatModel{modelName: "gpt-4o-mini", jsonMode: true, completions: fake}

	out, err := m.Chat(context.Background(), []model.Message{
		{Role: model.RoleSystem, Content: "JSON only"},
		{Role: model.RoleUser, Content: "find aid"},
		{Role: model.RoleAssistant, Content: "{}"},
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if out.Text != `{"opportunities":[]}` || out.Model != "gpt-4o-mini" {
		t.Errorf("unexpected output %+v", out)
	}
	if out.Usage.InputTokens != 50 || out.Usage.OutputTokens != 6 {
		t.Errorf("unexpected usage %+v", out.Usage)
	}
	if len(fake.params.Messages) != 3 {
		t.Errorf("expected 3 messages, got %d", len(fake.params.Messages))
	}
	if fake.params.ResponseFormat.OfJSONObject == nil {
		t.Error("JSON mode should request a JSON object response")
	}
}

func TestChatModel_Errors(t *testing.T) {
	t.Run("no choices", func(t *testing.T) {
		m := &ChatModel{modelName: DefaultModel, completions: &fakeCompletions{resp: &openai.ChatCompletion{}}}
		if _, err := m.Chat(context.Background(), nil); err == nil {
			t.Error("expected error for empty choices")
		}
	})

	t.Run("auth failure is not retryable", func(t *testing.T) {
		m := &ChatModel{modelName: DefaultModel, completions: &fakeCompletions{err: errors.New("401 invalid api key")}}
		_, err := m.Chat(context.Background(), nil)
		var pe *model.ProviderError
		if !errors.As(err, &pe) || pe.Code != "invalid_api_key" || pe.Retryable {
			t.Errorf("expected non-retryable invalid_api_key, got %v", err)
		}
	})
}
