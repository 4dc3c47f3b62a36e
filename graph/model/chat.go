// Package model provides LLM integration adapters.
package model

import "context"

// ChatModel defines the interface for LLM chat providers.
//
// This interface abstracts the differences between providers (Anthropic,
// OpenAI, Google) behind one call. Implementations should:
//   - Convert the standard Message format to the provider's format
//   - Report token usage so callers can account for spend
//   - Respect context cancellation and timeouts
//   - Return a *ProviderError for API failures so callers can decide on retries
//
// Example usage:
//
//	m := anthropic.NewChatModel(apiKey, "")
//	out, err := m.Chat(ctx, []model.Message{
//	    {Role: model.RoleSystem, Content: "Reply with JSON only."},
//	    {Role: model.RoleUser, Content: prompt},
//	})
type ChatModel interface {
	// Chat sends messages to the LLM and returns the response.
	Chat(ctx context.Context, messages []Message) (ChatOut, error)
}

// Message represents a single message in an LLM conversation.
type Message struct {
	// Role identifies the message sender. Use the Role* constants.
	Role string

	// Content contains the message text.
	Content string
}

// Standard role constants for LLM conversations.
const (
	// RoleSystem sets context or instructions. Providers that take the
	// system prompt separately receive the concatenated system messages.
	RoleSystem = "system"

	// RoleUser indicates a message from the caller.
	RoleUser = "user"

	// RoleAssistant indicates an earlier response from the LLM.
	RoleAssistant = "assistant"
)

// Usage reports the tokens a call consumed.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// ChatOut represents the output from an LLM chat completion.
type ChatOut struct {
	// Text contains the generated response.
	Text string

	// Model is the provider's model identifier that served the call.
	Model string

	// Usage is the token spend of the call, zero when the provider omits it.
	Usage Usage
}

// SplitSystem separates system messages from the conversation. Multiple
// system messages are joined with a blank line.
func SplitSystem(messages []Message) (string, []Message) {
	var system string
	conversation := make([]Message, 0, len(messages))

	for _, msg := range messages {
		if msg.Role != RoleSystem {
			conversation = append(conversation, msg)
			continue
		}
		if system != "" {
			system += "\n\n"
		}
		system += msg.Content
	}
	return system, conversation
}
