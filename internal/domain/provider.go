package domain

import "context"

// LLMProvider is the interface for any LLM backend.
type LLMProvider interface {
	// Chat sends a request and returns a complete response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	// Name returns the provider's identifier (e.g., "openai", "bedrock").
	Name() string
}

// StreamDelta is a single incremental chunk from a streaming LLM response.
type StreamDelta struct {
	Content      string       `json:"content,omitempty"`
	ToolCalls    []ToolCall   `json:"tool_calls,omitempty"`
	FinishReason FinishReason `json:"finish_reason,omitempty"`
	Done         bool         `json:"done,omitempty"`
	Usage        *Usage       `json:"usage,omitempty"`
	// Err is set on the final delta when the stream broke off.
	Err error `json:"-"`
}

// StreamingLLMProvider extends LLMProvider with streaming support.
type StreamingLLMProvider interface {
	LLMProvider
	// ChatStream sends a request and returns a channel of incremental deltas.
	ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamDelta, error)
}

// ModelOptions configures a single LanguageModel call.
type ModelOptions struct {
	Tools       map[string]Tool
	ToolChoice  ToolChoice
	MaxSteps    int
	Temperature *float64
	MaxTokens   int
}

// LanguageModel produces a complete response or an incremental stream for a
// conversation, running the tool loop on the caller's behalf.
type LanguageModel interface {
	GenerateText(ctx context.Context, msgs []Message, opts ModelOptions) (*GenerationResponse, error)
	StreamText(ctx context.Context, msgs []Message, opts ModelOptions) (StreamHandle, error)
}
