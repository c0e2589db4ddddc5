package chat

import (
	"context"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"switchboard/internal/domain"
	"switchboard/internal/usecase"
)

// inboxSize buffers progress updates and stream events so the request
// goroutine rarely waits on the UI.
const inboxSize = 64

// startRequest runs router.Process in the background and returns the inbox
// its progress, result and stream events arrive on. The inbox is closed
// after the last message. Cancelling ctx stops delivery.
func startRequest(ctx context.Context, router Router, input string, history []domain.Message, stream bool, gen uint64) <-chan tea.Msg {
	inbox := make(chan tea.Msg, inboxSize)
	send := func(msg tea.Msg) bool {
		select {
		case inbox <- msg:
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer close(inbox)

		res, err := router.Process(ctx, input, history, usecase.ProcessOptions{
			Stream: stream,
			OnUpdate: func(status string) {
				send(progressMsg{Status: status, Gen: gen})
			},
		})
		if !send(replyMsg{Result: res, Err: err, Gen: gen}) || err != nil {
			return
		}
		if res.Kind != domain.ResultStream {
			return
		}
		for ev := range res.Stream.Events() {
			if !send(streamEventMsg{Event: ev, Gen: gen}) {
				return
			}
		}
	}()
	return inbox
}

// waitFor returns a Cmd that delivers the next inbox message, or
// requestDoneMsg once the inbox is closed.
func waitFor(inbox <-chan tea.Msg, gen uint64) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-inbox
		if !ok {
			return requestDoneMsg{Gen: gen}
		}
		return msg
	}
}

// parseSlash splits "/cmd args..." into a lower-cased command and its
// arguments. ok is false for ordinary messages.
func parseSlash(input string) (cmd string, args []string, ok bool) {
	fields := strings.Fields(input)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}
