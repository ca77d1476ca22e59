package telemetry

import "sync"

// subscriberBuffer bounds each subscriber channel. Publishing never
// blocks: when a consumer falls this far behind, newer updates are
// dropped for that consumer only.
const subscriberBuffer = 64

// hub fans events and progress snapshots out to subscribers. The engine
// publishes under its own lock, so every hub operation must be
// non-blocking.
type hub struct {
	mu       sync.Mutex
	nextID   int
	events   map[int]chan Event
	progress map[int]chan ProgressState
	closed   bool
}

func newHub() *hub {
	return &hub{
		events:   make(map[int]chan Event),
		progress: make(map[int]chan ProgressState),
	}
}

// subscribeEvents registers a consumer for raw events. The returned
// cancel func is idempotent and closes the channel.
func (h *hub) subscribeEvents() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan Event, subscriberBuffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.nextID
	h.nextID++
	h.events[id] = ch
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.events[id]; ok {
			delete(h.events, id)
			close(c)
		}
	}
}

// subscribeProgress registers a consumer for progress snapshots.
func (h *hub) subscribeProgress() (<-chan ProgressState, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan ProgressState, subscriberBuffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.nextID
	h.nextID++
	h.progress[id] = ch
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.progress[id]; ok {
			delete(h.progress, id)
			close(c)
		}
	}
}

func (h *hub) publishEvent(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.events {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *hub) publishProgress(snap ProgressState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.progress {
		select {
		case ch <- snap:
		default:
		}
	}
}

// closeAll closes every subscriber channel and refuses new
// subscriptions.
func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.events {
		delete(h.events, id)
		close(ch)
	}
	for id, ch := range h.progress {
		delete(h.progress, id)
		close(ch)
	}
}

// SubscribeEvents streams every event appended after the call. Cancel
// when done; the channel closes on cancel or engine Close.
func (e *Engine) SubscribeEvents() (<-chan Event, func()) {
	return e.subs.subscribeEvents()
}

// SubscribeProgress streams progress snapshots as they change. The
// newest snapshot supersedes missed ones, so dropped intermediate
// updates are harmless.
func (e *Engine) SubscribeProgress() (<-chan ProgressState, func()) {
	return e.subs.subscribeProgress()
}
