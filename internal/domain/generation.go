package domain

import "encoding/json"

// ToolChoiceMode controls whether and which tool the model must call.
type ToolChoiceMode string

const (
	ToolChoiceAuto     ToolChoiceMode = "auto"
	ToolChoiceNone     ToolChoiceMode = "none"
	ToolChoiceRequired ToolChoiceMode = "required"
	ToolChoiceSpecific ToolChoiceMode = "tool"
)

// ToolChoice is either a mode or a specific tool the model is forced to call.
// The zero value means auto.
type ToolChoice struct {
	Mode     ToolChoiceMode `json:"type,omitempty"`
	ToolName string         `json:"toolName,omitempty"`
}

// ToolChoiceTool forces a call to the named tool.
func ToolChoiceTool(name string) ToolChoice {
	return ToolChoice{Mode: ToolChoiceSpecific, ToolName: name}
}

// IsZero reports whether no choice was made.
func (c ToolChoice) IsZero() bool { return c.Mode == "" && c.ToolName == "" }

// FinishReason is the model's signal for why a generation turn ended.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishContentFilter FinishReason = "content-filter"
	FinishToolCalls     FinishReason = "tool-calls"
	FinishError         FinishReason = "error"
	FinishOther         FinishReason = "other"
	FinishUnknown       FinishReason = "unknown"
)

// GenerationOptions are the per-call knobs accepted by Agent.Process.
type GenerationOptions struct {
	Stream      bool
	Temperature *float64
	MaxTokens   int
	MaxSteps    int
	ToolChoice  ToolChoice
}

// ToolResultRecord is the outcome of one tool call inside a generation step.
type ToolResultRecord struct {
	ToolCallID string          `json:"toolCallId"`
	Name       string          `json:"toolName"`
	Result     json.RawMessage `json:"result"`
}

// GenerationStep records a single model turn.
type GenerationStep struct {
	Text         string             `json:"text"`
	FinishReason FinishReason       `json:"finishReason"`
	ToolCalls    []ToolCall         `json:"toolCalls,omitempty"`
	ToolResults  []ToolResultRecord `json:"toolResults,omitempty"`
}

// GenerationResponse is the completed output of a LanguageModel call.
// When Steps is non-empty the last step is authoritative for the latest turn.
type GenerationResponse struct {
	Text         string           `json:"text"`
	FinishReason FinishReason     `json:"finishReason"`
	Steps        []GenerationStep `json:"steps,omitempty"`
	Usage        Usage            `json:"usage"`
}

// LastStep returns the most recent step, or nil when there are none.
func (r *GenerationResponse) LastStep() *GenerationStep {
	if r == nil || len(r.Steps) == 0 {
		return nil
	}
	return &r.Steps[len(r.Steps)-1]
}

// ResultKind tags the variant held by a Result.
type ResultKind int

const (
	ResultText ResultKind = iota + 1
	ResultStructured
	ResultStream
)

func (k ResultKind) String() string {
	switch k {
	case ResultText:
		return "text"
	case ResultStructured:
		return "structured"
	case ResultStream:
		return "stream"
	default:
		return "invalid"
	}
}

// Result is the value returned by agents and the orchestrator. Exactly one
// payload field is meaningful, selected by Kind.
type Result struct {
	Kind     ResultKind
	Text     string
	Response *GenerationResponse
	Stream   StreamHandle
}

// TextResult wraps plain text.
func TextResult(text string) Result { return Result{Kind: ResultText, Text: text} }

// StructuredResult wraps a response that still carries tool call data.
func StructuredResult(resp *GenerationResponse) Result {
	return Result{Kind: ResultStructured, Response: resp}
}

// StreamResult wraps a live stream.
func StreamResult(h StreamHandle) Result { return Result{Kind: ResultStream, Stream: h} }

// StreamEventType identifies a StreamEvent.
type StreamEventType string

const (
	StreamEventTextDelta  StreamEventType = "text-delta"
	StreamEventToolCall   StreamEventType = "tool-call"
	StreamEventToolResult StreamEventType = "tool-result"
	StreamEventStepFinish StreamEventType = "step-finish"
	StreamEventFinish     StreamEventType = "finish"
	StreamEventError      StreamEventType = "error"
)

// StreamEvent is one incremental item produced by a StreamHandle.
type StreamEvent struct {
	Type         StreamEventType   `json:"type"`
	Text         string            `json:"text,omitempty"`
	ToolCall     *ToolCall         `json:"toolCall,omitempty"`
	ToolResult   *ToolResultRecord `json:"toolResult,omitempty"`
	FinishReason FinishReason      `json:"finishReason,omitempty"`
	Usage        *Usage            `json:"usage,omitempty"`
	Err          error             `json:"-"`
}

// StreamHandle is an incremental event source. Callers either range over
// Events or call Wait, which drains whatever is left and returns the
// accumulated response.
type StreamHandle interface {
	ID() string
	Events() <-chan StreamEvent
	Wait() (*GenerationResponse, error)
}
