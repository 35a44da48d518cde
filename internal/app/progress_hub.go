package app

import (
	"sync"

	"horizon-portal/internal/domain"
)

// ProgressHub fans out progress snapshots to websocket subscribers of a questionnaire.
type ProgressHub struct {
	mu          sync.Mutex
	subscribers map[string]map[chan domain.Progress]struct{}
}

func NewProgressHub() *ProgressHub {
	return &ProgressHub{subscribers: make(map[string]map[chan domain.Progress]struct{})}
}

// Subscribe registers a buffered channel for questionnaireID primed with initial.
// The caller must invoke the returned cancel function to avoid leaks.
func (h *ProgressHub) Subscribe(questionnaireID string, initial domain.Progress) (<-chan domain.Progress, func()) {
	ch := make(chan domain.Progress, 8)
	ch <- initial

	h.mu.Lock()
	subs, ok := h.subscribers[questionnaireID]
	if !ok {
		subs = make(map[chan domain.Progress]struct{})
		h.subscribers[questionnaireID] = subs
	}
	subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		subs, ok := h.subscribers[questionnaireID]
		if !ok {
			return
		}
		if _, ok := subs[ch]; ok {
			delete(subs, ch)
			close(ch)
		}
		if len(subs) == 0 {
			delete(h.subscribers, questionnaireID)
		}
	}
	return ch, cancel
}

// Publish delivers p to every subscriber without blocking on slow readers.
func (h *ProgressHub) Publish(questionnaireID string, p domain.Progress) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers[questionnaireID] {
		select {
		case ch <- p:
		default:
			// drop the oldest snapshot; only the latest progress matters
			select {
			case <-ch:
			default:
			}
			ch <- p
		}
	}
}

// Subscribers reports how many channels listen on questionnaireID.
func (h *ProgressHub) Subscribers(questionnaireID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers[questionnaireID])
}
