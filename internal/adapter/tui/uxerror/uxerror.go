// Package uxerror turns pipeline errors into user-facing messages with
// recovery hints for the TUI.
package uxerror

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"switchboard/internal/adapter/tui/theme"
	"switchboard/internal/domain"
)

// FriendlyError is a user-facing error with suggestions for recovery.
type FriendlyError struct {
	Title   string           // short heading, e.g. "Tool Failed"
	Message string           // one-liner explanation
	Hints   []string         // actionable recovery suggestions
	Code    domain.ErrorCode // stable code of the underlying error
	Raw     string           // original error text
}

// Render formats the error for the message list.
func (fe FriendlyError) Render() string {
	var sb strings.Builder
	sb.WriteString(fe.Title)
	if fe.Message != "" {
		sb.WriteString("\n  ")
		sb.WriteString(fe.Message)
	}
	if len(fe.Hints) > 0 {
		sb.WriteString("\n  Suggestions:")
		for _, h := range fe.Hints {
			sb.WriteString(fmt.Sprintf("\n    %s %s", theme.SymbolBullet, h))
		}
	}
	return sb.String()
}

type errorPattern struct {
	match   func(err error) bool
	produce func(err error) FriendlyError
}

// Order matters: an agent failure wraps the tool or provider error that
// caused it, so the specific causes come first.
var patterns = []errorPattern{
	{
		match: func(err error) bool { return errors.Is(err, domain.ErrAgentNotFound) },
		produce: func(err error) FriendlyError {
			fe := FriendlyError{
				Title:   "No Matching Agent",
				Message: "The classifier picked an agent that does not exist.",
				Hints:   []string{"Rephrase the request", "Check the agent names in config"},
			}
			var nf *domain.AgentNotFoundError
			if errors.As(err, &nf) && len(nf.Available) > 0 {
				fe.Hints = append(fe.Hints, "Available agents: "+strings.Join(nf.Available, ", "))
			}
			return fe
		},
	},
	{
		match: func(err error) bool { return errors.Is(err, domain.ErrInvalidParameters) },
		produce: func(err error) FriendlyError {
			fe := FriendlyError{
				Title:   "Invalid Tool Arguments",
				Message: "The model called a tool with arguments it does not accept.",
				Hints:   []string{"Try again, models often correct themselves", "Rephrase the request with explicit values"},
			}
			if te := toolError(err); te != nil {
				fe.Message = fmt.Sprintf("The model called %s with arguments it does not accept: %v", te.Tool, te.Err)
			}
			return fe
		},
	},
	{
		match: func(err error) bool { return errors.Is(err, domain.ErrToolExecution) },
		produce: func(err error) FriendlyError {
			fe := FriendlyError{
				Title:   "Tool Failed",
				Message: "A tool returned an error.",
				Hints:   []string{"Check the values in your request"},
			}
			if te := toolError(err); te != nil {
				fe.Message = fmt.Sprintf("%s failed: %v", te.Tool, te.Err)
			}
			return fe
		},
	},
	{
		match: func(err error) bool { return errors.Is(err, domain.ErrContentPolicy) },
		produce: constantError("Blocked by Content Policy", "The provider refused to answer this request.",
			[]string{"Rephrase the request"}),
	},
	{
		match: func(err error) bool { return errors.Is(err, domain.ErrUnsupportedResponseShape) },
		produce: constantError("Unexpected Model Reply", "The model answered in a shape that could not be routed.",
			[]string{"Try again", "Switch classifier.mode between tool and structured"}),
	},
	{
		match: func(err error) bool { return errors.Is(err, domain.ErrContextOverflow) },
		produce: constantError("Conversation Too Long", "The conversation no longer fits in the model's context window.",
			[]string{"Run /clear to start over"}),
	},
	{
		match: func(err error) bool { return errors.Is(err, domain.ErrRateLimit) },
		produce: constantError("Rate Limited", "Too many requests sent to the API provider.",
			[]string{"Wait a moment before retrying", "Reduce request frequency"}),
	},
	{
		match: func(err error) bool { return errors.Is(err, domain.ErrAuthInvalid) },
		produce: constantError("Authentication Failed", "The API key or credentials were rejected.",
			[]string{"Check the provider api_key in config", "Verify the key has not expired"}),
	},
	{
		match: func(err error) bool {
			return errors.Is(err, domain.ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
		},
		produce: constantError("Request Timed Out", "The request took too long to complete.",
			[]string{"Try a shorter prompt", "Increase resp_timeout of the provider in config"}),
	},
	{
		match:   containsAny("connection refused", "dial tcp", "no such host"),
		produce: constantError("Connection Failed", "Could not reach the remote service.", []string{"Check your internet connection", "Verify the provider base_url in config"}),
	},
	{
		match: func(err error) bool { return errors.Is(err, domain.ErrProviderError) },
		produce: constantError("Provider Error", "The language model provider returned an error.",
			[]string{"Try again", "Check the provider status page"}),
	},
	{
		match: func(err error) bool { return errors.Is(err, domain.ErrGenerationFailed) },
		produce: constantError("Generation Failed", "The model stopped without producing an answer.",
			[]string{"Try again"}),
	},
}

// Humanize converts an error into a FriendlyError with recovery hints.
func Humanize(err error) FriendlyError {
	if err == nil {
		return FriendlyError{Title: "Unknown Error", Code: domain.CodeUnknown, Raw: "nil"}
	}

	for _, p := range patterns {
		if p.match(err) {
			fe := p.produce(err)
			fe.Code = domain.ErrorCodeOf(err)
			fe.Raw = err.Error()
			return fe
		}
	}

	return FriendlyError{
		Title:   "Unexpected Error",
		Message: err.Error(),
		Hints:   []string{"Try again", "Set SWITCHBOARD_LOGGER_LEVEL=debug for more details"},
		Code:    domain.ErrorCodeOf(err),
		Raw:     err.Error(),
	}
}

func toolError(err error) *domain.ToolExecutionError {
	var te *domain.ToolExecutionError
	if errors.As(err, &te) {
		return te
	}
	return nil
}

// containsAny matches errors whose text contains any of substrs,
// ignoring case.
func containsAny(substrs ...string) func(error) bool {
	return func(err error) bool {
		lower := strings.ToLower(err.Error())
		for _, s := range substrs {
			if strings.Contains(lower, s) {
				return true
			}
		}
		return false
	}
}

func constantError(title, message string, hints []string) func(error) FriendlyError {
	return func(error) FriendlyError {
		return FriendlyError{Title: title, Message: message, Hints: hints}
	}
}
