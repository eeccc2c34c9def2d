// Package providers defines the contract between the dialog driver and
// LLM backends, plus the concrete adapters shipped with minds.
package providers

import "context"

// Provider is the interface all LLM backends implement. The driver only
// ever streams; a non-streaming call is a stream with one delta.
type Provider interface {
	// ChatStream sends messages and delivers response deltas via
	// onDelta in arrival order. It returns the assembled response
	// after the stream ends. onDelta is never called concurrently.
	ChatStream(ctx context.Context, req ChatRequest, onDelta func(Delta)) (*ChatResponse, error)

	// DefaultModel returns the backend's default model name.
	DefaultModel() string

	// Name returns the provider identifier (e.g. "openai", "script").
	Name() string
}

// ChatRequest contains the input for a ChatStream call.
type ChatRequest struct {
	System   string           `json:"system,omitempty"`
	Messages []Message        `json:"messages"`
	Tools    []ToolDefinition `json:"tools,omitempty"`
	Model    string           `json:"model,omitempty"`
	Options  map[string]any   `json:"options,omitempty"`
}

// Delta is one piece of a streaming response. Exactly one of the
// payload fields is set per delta.
type Delta struct {
	Text     string `json:"text,omitempty"`
	Thinking string `json:"thinking,omitempty"`

	// FuncCall is set once per completed function call, after the
	// backend finishes accumulating its arguments.
	FuncCall *FuncCall `json:"func_call,omitempty"`

	Done bool `json:"done,omitempty"`
}

// FuncCall is a completed function invocation requested by the model.
type FuncCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ChatResponse is the assembled result of a stream.
type ChatResponse struct {
	Content      string     `json:"content"`
	Thinking     string     `json:"thinking,omitempty"`
	FuncCalls    []FuncCall `json:"func_calls,omitempty"`
	FinishReason string     `json:"finish_reason"` // "stop", "tool_calls", "length"
	Usage        *Usage     `json:"usage,omitempty"`
}

// Message is one conversation message.
type Message struct {
	Role       string     `json:"role"` // "system", "user", "assistant", "tool"
	Content    string     `json:"content"`
	FuncCalls  []FuncCall `json:"func_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // for role="tool" responses
}

// ToolDefinition describes a function tool available to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
