package domain

import (
	"context"
	"encoding/json"
	"time"
)

// ToolSchema describes a tool for the LLM function-calling protocol.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall represents an LLM's request to invoke a tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult is the outcome of executing a tool.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error"`
}

// RateLimit caps how often a tool may run.
type RateLimit struct {
	Requests int           `json:"requests"`
	Period   time.Duration `json:"period"`
}

// ToolMetadata is the descriptive record of a tool. Name is unique within a registry.
type ToolMetadata struct {
	Name         string     `json:"name"`
	Description  string     `json:"description"`
	Version      string     `json:"version"`
	Categories   []string   `json:"categories,omitempty"`
	RequiresAuth bool       `json:"requires_auth"`
	RateLimit    *RateLimit `json:"rate_limit,omitempty"`
}

// Tool is the interface every tool must implement.
//
// Execute validates params against Schema before running. Failures are
// reported as *ToolExecutionError.
type Tool interface {
	Name() string
	Description() string
	Metadata() ToolMetadata
	Schema() ToolSchema
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}
