package client

import (
	"sync"

	"quizbeam-client/internal/domain"
	"quizbeam-client/internal/protocol"
	"quizbeam-client/internal/session"
)

// StatusChange is broadcast on every connection status transition. Attempt
// counts consecutive reconnect tries and resets on success; Err carries the
// failure that caused the transition, if any.
type StatusChange struct {
	Old     domain.ConnectionStatus
	New     domain.ConnectionStatus
	Attempt int
	Err     error
}

// hub fans out client notifications. Subscriptions return an unsubscribe
// func. A delivery already in flight when unsubscribe is called may still
// land; no new deliveries start afterwards.
type hub struct {
	mu     sync.Mutex
	nextID int
	status map[int]func(StatusChange)
	events map[int]func(protocol.Event)
	states map[int]func(session.State)
	timers map[int]func(domain.TimerSnapshot)
}

func newHub() *hub {
	return &hub{
		status: make(map[int]func(StatusChange)),
		events: make(map[int]func(protocol.Event)),
		states: make(map[int]func(session.State)),
		timers: make(map[int]func(domain.TimerSnapshot)),
	}
}

func (h *hub) onStatus(fn func(StatusChange)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.status[id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.status, id)
	}
}

func (h *hub) onEvent(fn func(protocol.Event)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.events[id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.events, id)
	}
}

func (h *hub) onState(fn func(session.State)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.states[id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.states, id)
	}
}

func (h *hub) onTimer(fn func(domain.TimerSnapshot)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.timers[id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.timers, id)
	}
}

func (h *hub) notifyStatus(change StatusChange) {
	for _, fn := range h.statusSnapshot() {
		fn(change)
	}
}

func (h *hub) notifyEvent(ev protocol.Event) {
	h.mu.Lock()
	fns := make([]func(protocol.Event), 0, len(h.events))
	for _, fn := range h.events {
		fns = append(fns, fn)
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (h *hub) notifyState(st session.State) {
	h.mu.Lock()
	fns := make([]func(session.State), 0, len(h.states))
	for _, fn := range h.states {
		fns = append(fns, fn)
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn(st)
	}
}

func (h *hub) notifyTimer(snap domain.TimerSnapshot) {
	h.mu.Lock()
	fns := make([]func(domain.TimerSnapshot), 0, len(h.timers))
	for _, fn := range h.timers {
		fns = append(fns, fn)
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}

func (h *hub) statusSnapshot() []func(StatusChange) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fns := make([]func(StatusChange), 0, len(h.status))
	for _, fn := range h.status {
		fns = append(fns, fn)
	}
	return fns
}
