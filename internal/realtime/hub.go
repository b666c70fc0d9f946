package realtime

import "sync"

// Topics published by the repositories.
const (
	TopicTasks       = "tasks"
	TopicCategories  = "categories"
	TopicLocations   = "locations"
	TopicProjects    = "projects"
	TopicInvitations = "invitations"
)

// Hub fans out change notifications from repositories to observers. Each
// subscriber gets a buffered signal channel; notifications for a busy
// subscriber coalesce instead of blocking the writer.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan struct{}]struct{}
}

func NewHub() *Hub {
	return &Hub{
		subs: make(map[string]map[chan struct{}]struct{}),
	}
}

// Subscribe registers an observer for a topic. The returned cancel func must
// be called when the observer is done.
func (h *Hub) Subscribe(topic string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	h.mu.Lock()
	if h.subs[topic] == nil {
		h.subs[topic] = make(map[chan struct{}]struct{})
	}
	h.subs[topic][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.subs[topic]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(h.subs, topic)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish notifies all observers of a topic that underlying rows changed.
func (h *Hub) Publish(topic string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[topic] {
		select {
		case ch <- struct{}{}:
		default: // observer already has a pending signal
		}
	}
}
