// Package google provides a ChatModel adapter for the Google Gemini API.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/dshills/aidgraph/graph/model"
)

// DefaultModel is used when NewChatModel receives an empty model name.
const DefaultModel = "gemini-2.5-flash"

// ChatModel implements model.ChatModel for Google's Gemini API.
//
// Responses blocked by Gemini's safety filters are reported as a
// *model.ProviderError with code "blocked" wrapping a *SafetyFilterError.
//
// Example usage:
//
//	m, err := google.NewChatModel(ctx, os.Getenv("GOOGLE_API_KEY"), "")
//	if err != nil {
//	    return err
//	}
//	defer m.Close()
type ChatModel struct {
	modelName string
	jsonMode  bool
	client    *genai.Client
	generate  generateFunc
}

// generateFunc performs one GenerateContent call; tests substitute it.
type generateFunc func(ctx context.Context, system string, parts []genai.Part) (*genai.GenerateContentResponse, error)

// NewChatModel creates a Gemini ChatModel. Call Close when done.
func NewChatModel(ctx context.Context, apiKey, modelName string) (*ChatModel, error) {
	if apiKey == "" {
		return nil, errors.New("google API key is required")
	}
	if modelName == "" {
		modelName = DefaultModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Google client: %w", err)
	}

	m := &ChatModel{modelName: modelName, client: client}
	m.generate = m.sdkGenerate
	return m, nil
}

// WithJSONMode requests application/json responses.
func (m *ChatModel) WithJSONMode() *ChatModel {
	m.jsonMode = true
	return m
}

// Close releases the underlying client.
func (m *ChatModel) Close() error {
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}

// Chat implements the model.ChatModel interface.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}

	system, conversation := model.SplitSystem(messages)
	parts := make([]genai.Part, 0, len(conversation))
	for _, msg := range conversation {
		if msg.Content != "" {
			parts = append(parts, genai.Text(msg.Content))
		}
	}

	resp, err := m.generate(ctx, system, parts)
	if err != nil {
		return model.ChatOut{}, model.ClassifyError("google", err)
	}
	return convertResponse(m.modelName, resp)
}

func (m *ChatModel) sdkGenerate(ctx context.Context, system string, parts []genai.Part) (*genai.GenerateContentResponse, error) {
	gm := m.client.GenerativeModel(m.modelName)
	if system != "" {
		gm.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	if m.jsonMode {
		gm.ResponseMIMEType = "application/json"
	}
	return gm.GenerateContent(ctx, parts...)
}

func convertResponse(modelName string, resp *genai.GenerateContentResponse) (model.ChatOut, error) {
	out := model.ChatOut{Model: modelName}
	if resp == nil {
		return out, nil
	}
	if resp.UsageMetadata != nil {
		out.Usage = model.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	if len(resp.Candidates) == 0 {
		return out, nil
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		blocked := &SafetyFilterError{reason: "SAFETY", category: blockedCategory(candidate)}
		return out, &model.ProviderError{
			Provider: "google",
			Code:     "blocked",
			Message:  blocked.Error(),
			Cause:    blocked,
		}
	}
	if candidate.Content == nil {
		return out, nil
	}

	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	out.Text = text.String()
	return out, nil
}

func blockedCategory(c *genai.Candidate) string {
	for _, r := range c.SafetyRatings {
		if r.Blocked {
			return fmt.Sprint(r.Category)
		}
	}
	return "unknown"
}

// SafetyFilterError represents a Google safety filter block.
//
// Use errors.As to check for this error type:
//
//	var safetyErr *google.SafetyFilterError
//	if errors.As(err, &safetyErr) {
//	    log.Printf("Content blocked: %s", safetyErr.Category())
//	}
type SafetyFilterError struct {
	reason   string
	category string
}

// Error implements the error interface.
func (e *SafetyFilterError) Error() string {
	return "content blocked by safety filter: " + e.category
}

// Category returns the safety category that triggered the block.
func (e *SafetyFilterError) Category() string {
	return e.category
}

// Reason returns why the content was blocked.
func (e *SafetyFilterError) Reason() string {
	return e.reason
}
