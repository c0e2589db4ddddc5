package usecase

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"switchboard/internal/domain"
)

var (
	idMu      sync.Mutex
	idEntropy = ulid.Monotonic(rand.Reader, 0)
)

// newID returns a ULID. IDs minted in the same millisecond stay sortable.
func newID() string {
	idMu.Lock()
	defer idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), idEntropy).String()
}

// History is an append-only, synchronized message log.
type History struct {
	mu   sync.RWMutex
	msgs []domain.Message
}

// NewHistory creates a history seeded with a copy of msgs.
func NewHistory(msgs ...domain.Message) *History {
	h := &History{}
	h.Append(msgs...)
	return h
}

// Append adds msgs atomically, stamping missing IDs and timestamps.
func (h *History) Append(msgs ...domain.Message) {
	if len(msgs) == 0 {
		return
	}
	now := time.Now()

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, m := range msgs {
		if m.ID == "" {
			m.ID = newID()
		}
		if m.Timestamp.IsZero() {
			m.Timestamp = now
		}
		h.msgs = append(h.msgs, m)
	}
}

// Messages returns a copy of the log.
func (h *History) Messages() []domain.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cp := make([]domain.Message, len(h.msgs))
	copy(cp, h.msgs)
	return cp
}

// Len returns the number of messages.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.msgs)
}

// Clear discards every message.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = nil
}
