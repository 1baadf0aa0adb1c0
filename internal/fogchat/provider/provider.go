// Package provider gives the chat pipeline a uniform view over upstream LLM
// completion services.
//
// Individual providers implement the Provider capability; the Gateway
// composes an ordered list of them with single-attempt fallback, an optional
// one-round web-search tool loop, and mandatory response sanitization.
package provider

import "context"

// Message roles on the completion wire.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is a single entry of the conversation sent to a provider.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a structured tool invocation requested by the model instead of
// a text answer.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names the tool and carries its JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Completion is the outcome of one provider call: either text, or one or
// more tool calls the caller must resolve before asking again.
type Completion struct {
	Text      string
	ToolCalls []ToolCall
}

// Provider is a single upstream completion service.
//
// withTools controls whether the web-search tool is declared on the call;
// the gateway disables it on the second call of a tool round so the model
// cannot chain tool use.
type Provider interface {
	// Name identifies the provider in results and logs (e.g. "gemini").
	Name() string
	// Generate runs one completion call.
	Generate(ctx context.Context, messages []Message, withTools bool) (*Completion, error)
}
