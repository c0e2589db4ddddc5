package usecase

import (
	"strings"

	"switchboard/internal/domain"
)

// responseLink is one link of the response chain. A link fires when its
// predicate matches; the first match wins.
type responseLink struct {
	name   string
	match  func(*domain.GenerationResponse) bool
	handle func(*domain.GenerationResponse) (domain.Result, error)
}

// responseChain resolves a completed generation into text or a structured
// result. Order matters: trailing prose in a step outranks an earlier tool
// call.
var responseChain = []responseLink{
	{name: "steps", match: hasStepTextOnly, handle: lastStepText},
	{name: "tool-calls", match: lastStepHasToolCalls, handle: passThrough},
	{name: "content-filter", match: finishedWith(domain.FinishContentFilter), handle: contentPolicyFailure},
	{name: "error", match: finishedWith(domain.FinishError), handle: generationFailure},
}

// HandleResponse runs resp through the chain. It never mutates resp.
func HandleResponse(resp *domain.GenerationResponse) (domain.Result, error) {
	if resp == nil {
		return domain.Result{}, &domain.GenerationFailedError{FinishReason: domain.FinishUnknown, Detail: "no response"}
	}
	for _, link := range responseChain {
		if link.match(resp) {
			return link.handle(resp)
		}
	}
	return fallbackText(resp), nil
}

func hasStepTextOnly(resp *domain.GenerationResponse) bool {
	if strings.TrimSpace(resp.Text) != "" {
		return false
	}
	return lastNonEmptyStepText(resp) != ""
}

func lastStepText(resp *domain.GenerationResponse) (domain.Result, error) {
	return domain.TextResult(lastNonEmptyStepText(resp)), nil
}

func lastNonEmptyStepText(resp *domain.GenerationResponse) string {
	for i := len(resp.Steps) - 1; i >= 0; i-- {
		if strings.TrimSpace(resp.Steps[i].Text) != "" {
			return resp.Steps[i].Text
		}
	}
	return ""
}

func lastStepHasToolCalls(resp *domain.GenerationResponse) bool {
	last := resp.LastStep()
	return last != nil && len(last.ToolCalls) > 0
}

func passThrough(resp *domain.GenerationResponse) (domain.Result, error) {
	return domain.StructuredResult(resp), nil
}

func finishedWith(reason domain.FinishReason) func(*domain.GenerationResponse) bool {
	return func(resp *domain.GenerationResponse) bool { return resp.FinishReason == reason }
}

func contentPolicyFailure(resp *domain.GenerationResponse) (domain.Result, error) {
	return domain.Result{}, &domain.ContentPolicyError{FinishReason: resp.FinishReason}
}

func generationFailure(resp *domain.GenerationResponse) (domain.Result, error) {
	return domain.Result{}, &domain.GenerationFailedError{FinishReason: resp.FinishReason, Detail: resp.Text}
}

func fallbackText(resp *domain.GenerationResponse) domain.Result {
	if resp.Text != "" {
		return domain.TextResult(resp.Text)
	}
	if last := resp.LastStep(); last != nil {
		return domain.TextResult(last.Text)
	}
	return domain.TextResult("")
}
