package dynamo

import (
	"sync"

	"github.com/mbroadst/thinkagain/engine"
)

type watcher struct {
	table string
	key   *string
	sub   *engine.Subscription
}

// Hub fans changes out to the feeds subscribed to a table or a single row.
type Hub struct {
	mu       sync.Mutex
	watchers map[*watcher]struct{}
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{watchers: make(map[*watcher]struct{})}
}

// Subscribe opens a feed on table. A nil key subscribes to every row.
func (h *Hub) Subscribe(table string, key any) *engine.Subscription {
	w := &watcher{table: table}
	if key != nil {
		k := keyText(key)
		w.key = &k
	}
	w.sub = engine.NewSubscription(func() {
		h.mu.Lock()
		delete(h.watchers, w)
		h.mu.Unlock()
	})

	h.mu.Lock()
	h.watchers[w] = struct{}{}
	h.mu.Unlock()
	return w.sub
}

// Publish delivers c, a change to the row with primary key key, to every
// matching feed.
func (h *Hub) Publish(table string, key any, c engine.Change) {
	k := keyText(key)

	h.mu.Lock()
	var targets []*engine.Subscription
	for w := range h.watchers {
		if w.table != table {
			continue
		}
		if w.key != nil && *w.key != k {
			continue
		}
		targets = append(targets, w.sub)
	}
	h.mu.Unlock()

	for _, sub := range targets {
		sub.Push(engine.Change{Old: engine.CloneRow(c.Old), New: engine.CloneRow(c.New)})
	}
}

// Subscribers returns the number of open feeds.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.watchers)
}
