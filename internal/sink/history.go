package sink

import (
	"sync"

	"github.com/eapache/queue"

	"github.com/sight-dev/sight/pkg/sensory"
)

const defaultHistorySize = 256

// history keeps the most recent events in arrival order.
type history struct {
	mu  sync.Mutex
	q   *queue.Queue
	cap int
}

func newHistory(capacity int) *history {
	return &history{q: queue.New(), cap: capacity}
}

func (h *history) add(event sensory.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.q.Add(event)
	for h.q.Length() > h.cap {
		h.q.Remove()
	}
}

// latest returns up to limit events, oldest first, keeping only
// those carrying every tag in tags.
func (h *history) latest(limit int, tags []string) []sensory.Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]sensory.Event, 0, h.q.Length())
	for i := 0; i < h.q.Length(); i++ {
		event := h.q.Get(i).(sensory.Event)
		if !hasAllTags(event, tags) {
			continue
		}
		out = append(out, event)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func (h *history) size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.q.Length()
}

func hasAllTags(event sensory.Event, tags []string) bool {
	for _, want := range tags {
		found := false
		for _, tag := range event.Meta.Tags {
			if tag == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
