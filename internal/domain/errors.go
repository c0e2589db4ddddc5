package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Category sentinels.
var (
	ErrNotFound      = fmt.Errorf("not found")
	ErrDuplicate     = fmt.Errorf("duplicate")
	ErrTimeout       = fmt.Errorf("operation timed out")
	ErrInvalidInput  = fmt.Errorf("invalid input")
	ErrProviderError = fmt.Errorf("provider error")
)

// Sentinel errors for the domain layer.
var (
	ErrProviderNotFound = fmt.Errorf("llm provider not found")
	ErrToolNotFound     = fmt.Errorf("tool not found")
	ErrConfigLoad       = fmt.Errorf("failed to load configuration")
	ErrDecryption       = fmt.Errorf("decryption failed")

	// Resilience errors.
	ErrContextOverflow = fmt.Errorf("context window exceeded")
	ErrRateLimit       = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid     = fmt.Errorf("authentication failed")

	// Pipeline errors. The typed errors below match these through errors.Is.
	ErrToolExecution            = fmt.Errorf("tool execution failed")
	ErrInvalidParameters        = fmt.Errorf("invalid tool parameters")
	ErrContentPolicy            = fmt.Errorf("response blocked by content policy")
	ErrGenerationFailed         = fmt.Errorf("generation failed")
	ErrAgentProcessing          = fmt.Errorf("agent processing failed")
	ErrUnsupportedResponseShape = fmt.Errorf("unsupported response shape")
	ErrAgentNotFound            = fmt.Errorf("agent not found")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Registry.Get")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryableError reports whether err is a transient error that may succeed on retry.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrTimeout)
}

// ValidationError reports tool parameters that do not match the tool's schema.
type ValidationError struct {
	Tool   string
	Detail string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Detail == "" && e.Err != nil {
		return fmt.Sprintf("validate %s params: %s", e.Tool, e.Err)
	}
	return fmt.Sprintf("validate %s params: %s", e.Tool, e.Detail)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ToolErrorKind distinguishes bad input from a failed run.
type ToolErrorKind string

const (
	ToolErrInvalidParameters ToolErrorKind = "invalid-parameters"
	ToolErrExecutionFailed   ToolErrorKind = "execution-failed"
)

// ToolExecutionError is the only error kind a Tool returns from Execute.
type ToolExecutionError struct {
	Tool string
	Kind ToolErrorKind
	Err  error
}

// NewInvalidParamsError reports a parameter validation failure for tool.
func NewInvalidParamsError(tool string, err error) *ToolExecutionError {
	return &ToolExecutionError{Tool: tool, Kind: ToolErrInvalidParameters, Err: err}
}

// NewExecutionError reports a failed tool run.
func NewExecutionError(tool string, err error) *ToolExecutionError {
	return &ToolExecutionError{Tool: tool, Kind: ToolErrExecutionFailed, Err: err}
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s: %s: %v", e.Tool, e.Kind, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

func (e *ToolExecutionError) Is(target error) bool {
	if target == ErrToolExecution {
		return true
	}
	return target == ErrInvalidParameters && e.Kind == ToolErrInvalidParameters
}

// ContentPolicyError is raised when the model stopped on its content filter.
type ContentPolicyError struct {
	FinishReason FinishReason
}

func (e *ContentPolicyError) Error() string {
	return fmt.Sprintf("%s (finish reason %q)", ErrContentPolicy, e.FinishReason)
}

func (e *ContentPolicyError) Is(target error) bool { return target == ErrContentPolicy }

// GenerationFailedError is raised when the model reported an error finish reason.
type GenerationFailedError struct {
	FinishReason FinishReason
	Detail       string
}

func (e *GenerationFailedError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", ErrGenerationFailed, e.Detail)
	}
	return ErrGenerationFailed.Error()
}

func (e *GenerationFailedError) Is(target error) bool { return target == ErrGenerationFailed }

// AgentProcessingError wraps any failure inside Agent.Process or
// Agent.ProcessMessages.
type AgentProcessingError struct {
	Agent string
	Err   error
}

func (e *AgentProcessingError) Error() string {
	return fmt.Sprintf("agent %s: processing failed: %v", e.Agent, e.Err)
}

func (e *AgentProcessingError) Unwrap() error { return e.Err }

func (e *AgentProcessingError) Is(target error) bool { return target == ErrAgentProcessing }

// UnsupportedResponseShapeError is raised by the classifier when the model's
// reply is not a single well-formed classification.
type UnsupportedResponseShapeError struct {
	Shape  string
	Detail string
	Err    error
}

func (e *UnsupportedResponseShapeError) Error() string {
	var b strings.Builder
	b.WriteString(ErrUnsupportedResponseShape.Error())
	if e.Shape != "" {
		fmt.Fprintf(&b, " %q", e.Shape)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *UnsupportedResponseShapeError) Unwrap() error { return e.Err }

func (e *UnsupportedResponseShapeError) Is(target error) bool {
	return target == ErrUnsupportedResponseShape
}

// AgentNotFoundError is raised when the classifier names an agent that is not
// configured.
type AgentNotFoundError struct {
	Name      string
	Available []string
}

func (e *AgentNotFoundError) Error() string {
	return fmt.Sprintf("%s: %q (available: %s)", ErrAgentNotFound, e.Name, strings.Join(e.Available, ", "))
}

func (e *AgentNotFoundError) Is(target error) bool {
	return target == ErrAgentNotFound || target == ErrNotFound
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown                  ErrorCode = "UNKNOWN"
	CodeNotFound                 ErrorCode = "NOT_FOUND"
	CodeDuplicate                ErrorCode = "DUPLICATE"
	CodeTimeout                  ErrorCode = "TIMEOUT"
	CodeInvalidInput             ErrorCode = "INVALID_INPUT"
	CodeProviderError            ErrorCode = "PROVIDER_ERROR"
	CodeProviderNotFound         ErrorCode = "PROVIDER_NOT_FOUND"
	CodeToolNotFound             ErrorCode = "TOOL_NOT_FOUND"
	CodeConfigLoad               ErrorCode = "CONFIG_LOAD"
	CodeDecryption               ErrorCode = "DECRYPTION"
	CodeContextOverflow          ErrorCode = "CONTEXT_OVERFLOW"
	CodeRateLimit                ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid              ErrorCode = "AUTH_INVALID"
	CodeToolFailure              ErrorCode = "TOOL_FAILURE"
	CodeInvalidParameters        ErrorCode = "INVALID_PARAMETERS"
	CodeContentPolicy            ErrorCode = "CONTENT_POLICY"
	CodeGenerationFailed         ErrorCode = "GENERATION_FAILED"
	CodeAgentProcessing          ErrorCode = "AGENT_PROCESSING"
	CodeUnsupportedResponseShape ErrorCode = "UNSUPPORTED_RESPONSE_SHAPE"
	CodeAgentNotFound            ErrorCode = "AGENT_NOT_FOUND"
)

// errorCodeOrder lists sentinels from most to least specific. ErrorCodeOf
// returns the first match, so wrapped chains resolve to their innermost cause
// before the umbrella codes.
var errorCodeOrder = []struct {
	err  error
	code ErrorCode
}{
	{ErrInvalidParameters, CodeInvalidParameters},
	{ErrContentPolicy, CodeContentPolicy},
	{ErrGenerationFailed, CodeGenerationFailed},
	{ErrUnsupportedResponseShape, CodeUnsupportedResponseShape},
	{ErrAgentNotFound, CodeAgentNotFound},
	{ErrRateLimit, CodeRateLimit},
	{ErrAuthInvalid, CodeAuthInvalid},
	{ErrContextOverflow, CodeContextOverflow},
	{ErrToolNotFound, CodeToolNotFound},
	{ErrProviderNotFound, CodeProviderNotFound},
	{ErrToolExecution, CodeToolFailure},
	{ErrAgentProcessing, CodeAgentProcessing},
	{ErrConfigLoad, CodeConfigLoad},
	{ErrDecryption, CodeDecryption},
	{ErrTimeout, CodeTimeout},
	{ErrInvalidInput, CodeInvalidInput},
	{ErrProviderError, CodeProviderError},
	{ErrDuplicate, CodeDuplicate},
	{ErrNotFound, CodeNotFound},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	for _, entry := range errorCodeOrder {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	return ErrorCodeOf(e.Err)
}
