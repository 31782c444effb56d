// Package llm is the chat fallback used when a message carries no
// transaction intent.
package llm

import (
	"context"
	"errors"
)

var (
	// ErrUpstream means the model call failed.
	ErrUpstream = errors.New("upstream AI error")
	// ErrTimeout means the model did not answer in time.
	ErrTimeout = errors.New("AI service timeout")
	// ErrUnavailable means no call was attempted: the model is not configured
	// or the circuit breaker is open.
	ErrUnavailable = errors.New("AI service unavailable")
)

// Roles accepted in chat history. Turns with any other role are dropped.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// SystemPrompt frames every conversation.
const SystemPrompt = "You are SmartSpendAI's helpful financial assistant. Be clear, concise, and factual. " +
	"If unsure, say so briefly."

// FallbackReply is returned when the model answers with no text.
const FallbackReply = "Sorry, I could not generate a response."

// Turn is one prior message in the conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatModel produces a reply to message given the prior conversation.
type ChatModel interface {
	Reply(ctx context.Context, history []Turn, message string) (string, error)
}

// FilterHistory keeps turns with a known role and non-empty content.
func FilterHistory(history []Turn) []Turn {
	out := make([]Turn, 0, len(history))
	for _, t := range history {
		switch t.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			continue
		}
		if t.Content == "" {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Unconfigured is the ChatModel used when no API key is set.
type Unconfigured struct{}

// Reply always fails with ErrUnavailable.
func (Unconfigured) Reply(context.Context, []Turn, string) (string, error) {
	return "", ErrUnavailable
}

// ChatFunc adapts a function to ChatModel.
type ChatFunc func(ctx context.Context, history []Turn, message string) (string, error)

// Reply calls f.
func (f ChatFunc) Reply(ctx context.Context, history []Turn, message string) (string, error) {
	return f(ctx, history, message)
}
