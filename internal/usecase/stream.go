package usecase

import (
	"context"
	"strings"
	"time"

	"switchboard/internal/domain"
)

// streamBufferSize is the event buffer between the generation goroutine and
// the consumer.
const streamBufferSize = 64

// maxToolCallsPerDelta limits the number of tool call slots the accumulator
// will allocate. Positions beyond it are dropped.
const maxToolCallsPerDelta = 50

// streamAccumulator collects incremental deltas into a complete message.
type streamAccumulator struct {
	content   strings.Builder
	toolCalls []domain.ToolCall
	finish    domain.FinishReason
	usage     domain.Usage
	err       error
}

func newStreamAccumulator() *streamAccumulator {
	return &streamAccumulator{}
}

// addDelta merges a single streaming delta into the accumulator.
// Tool calls are tracked by position in delta.ToolCalls. The first fragment
// for a position provides ID and Name; later fragments append to Arguments.
func (acc *streamAccumulator) addDelta(delta domain.StreamDelta) {
	acc.content.WriteString(delta.Content)

	for idx, tc := range delta.ToolCalls {
		if idx >= maxToolCallsPerDelta {
			break
		}
		for len(acc.toolCalls) <= idx {
			acc.toolCalls = append(acc.toolCalls, domain.ToolCall{})
		}

		existing := &acc.toolCalls[idx]
		if tc.ID != "" {
			existing.ID = tc.ID
		}
		if tc.Name != "" {
			existing.Name = tc.Name
		}
		if len(tc.Arguments) > 0 {
			existing.Arguments = append(existing.Arguments, tc.Arguments...)
		}
	}

	if delta.FinishReason != "" {
		acc.finish = delta.FinishReason
	}
	if delta.Usage != nil {
		acc.usage = *delta.Usage
	}
	if delta.Err != nil {
		acc.err = delta.Err
	}
}

// build returns the accumulated message, finish reason and usage. Padding
// slots that never received a name are dropped.
func (acc *streamAccumulator) build() (domain.Message, domain.FinishReason, domain.Usage) {
	var calls []domain.ToolCall
	for _, tc := range acc.toolCalls {
		if tc.Name != "" {
			calls = append(calls, tc)
		}
	}

	finish := acc.finish
	if finish == "" {
		finish = domain.FinishUnknown
		if len(calls) > 0 {
			finish = domain.FinishToolCalls
		}
	}

	msg := domain.Message{
		Role:      domain.RoleAssistant,
		Content:   acc.content.String(),
		ToolCalls: calls,
		Timestamp: time.Now(),
	}
	return msg, finish, acc.usage
}

// streamHandle is the domain.StreamHandle returned by Generator.StreamText.
// The producing goroutine sets resp or err before closing events.
type streamHandle struct {
	id     string
	ctx    context.Context
	events chan domain.StreamEvent

	resp *domain.GenerationResponse
	err  error
}

func newStreamHandle(ctx context.Context) *streamHandle {
	return &streamHandle{
		id:     newID(),
		ctx:    ctx,
		events: make(chan domain.StreamEvent, streamBufferSize),
	}
}

func (h *streamHandle) ID() string { return h.id }

func (h *streamHandle) Events() <-chan domain.StreamEvent { return h.events }

// Wait drains the remaining events and returns the accumulated response.
func (h *streamHandle) Wait() (*domain.GenerationResponse, error) {
	for range h.events {
	}
	return h.resp, h.err
}

// emit delivers ev unless the stream's context is done.
func (h *streamHandle) emit(ev domain.StreamEvent) bool {
	select {
	case h.events <- ev:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// finish records the outcome, sends the terminal event and closes the
// channel. A cancelled consumer may never see the error event.
func (h *streamHandle) finish(resp *domain.GenerationResponse, err error) {
	h.resp, h.err = resp, err

	if err != nil {
		select {
		case h.events <- domain.StreamEvent{Type: domain.StreamEventError, Err: err}:
		default:
		}
	} else {
		h.emit(domain.StreamEvent{
			Type:         domain.StreamEventFinish,
			FinishReason: resp.FinishReason,
			Usage:        new(resp.Usage),
		})
	}
	close(h.events)
}

var _ domain.StreamHandle = (*streamHandle)(nil)
