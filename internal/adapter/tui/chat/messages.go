// Package chat implements the Bubble Tea chat REPL in front of the
// orchestrator.
package chat

import "switchboard/internal/domain"

// Every request message carries the generation it belongs to. Messages
// from an older generation (a cancelled request) are discarded.

// progressMsg is a status update emitted while the message is classified.
type progressMsg struct {
	Status string
	Gen    uint64
}

// replyMsg carries the orchestrator's result.
type replyMsg struct {
	Result domain.Result
	Err    error
	Gen    uint64
}

// streamEventMsg carries one event of a streamed reply.
type streamEventMsg struct {
	Event domain.StreamEvent
	Gen   uint64
}

// requestDoneMsg signals that a request produced its last message.
type requestDoneMsg struct {
	Gen uint64
}

// QuitMsg signals the program to exit.
type QuitMsg struct{}
