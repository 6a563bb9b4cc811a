package repo

import (
	"container/list"
	"context"
	"sync"

	"tracklink/internal/metrics"
)

// MemoryLinkTable keeps mappings in process memory. The recency list has the
// most recently touched entry at the front, so the back is always the entry
// with the oldest timestamp.
type MemoryLinkTable struct {
	mu    sync.Mutex
	opts  LinkOptions
	items map[string]*list.Element
	order *list.List
}

func NewMemoryLinkTable(opts LinkOptions) *MemoryLinkTable {
	return &MemoryLinkTable{
		opts:  opts.withDefaults(),
		items: make(map[string]*list.Element),
		order: list.New(),
	}
}

func (t *MemoryLinkTable) Create(_ context.Context, videoID string) (*LinkEntity, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.opts.Now()
	t.sweep()

	shortID, err := t.freeID()
	if err != nil {
		return nil, err
	}

	for len(t.items) >= t.opts.Capacity {
		t.evict()
	}

	link := &LinkEntity{
		ShortID:    shortID,
		VideoID:    videoID,
		CreatedAt:  now,
		LastAccess: now,
	}
	t.items[shortID] = t.order.PushFront(link)

	out := *link
	return &out, nil
}

func (t *MemoryLinkTable) Resolve(_ context.Context, shortID string) (*LinkEntity, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	elem, err := t.live(shortID)
	if err != nil {
		return nil, err
	}

	link := elem.Value.(*LinkEntity)
	link.Visits++
	link.LastAccess = t.opts.Now()
	t.order.MoveToFront(elem)

	out := *link
	return &out, nil
}

func (t *MemoryLinkTable) Get(_ context.Context, shortID string) (*LinkEntity, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	elem, err := t.live(shortID)
	if err != nil {
		return nil, err
	}
	out := *elem.Value.(*LinkEntity)
	return &out, nil
}

// Len reports the number of stored entries, expired ones included until swept.
func (t *MemoryLinkTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}

// live must be called with mu held. An expired entry is dropped on sight.
func (t *MemoryLinkTable) live(shortID string) (*list.Element, error) {
	elem, ok := t.items[shortID]
	if !ok {
		return nil, ErrLinkNotFound
	}
	if t.opts.expired(elem.Value.(*LinkEntity).LastAccess, t.opts.Now()) {
		t.remove(elem)
		metrics.LinkEvictions.WithLabelValues("expired").Inc()
		return nil, ErrLinkNotFound
	}
	return elem, nil
}

func (t *MemoryLinkTable) freeID() (string, error) {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id, err := t.opts.NewID()
		if err != nil {
			return "", err
		}
		if _, taken := t.items[id]; !taken {
			return id, nil
		}
	}
	return "", ErrIDSpaceExhausted
}

// sweep drops expired entries from the old end of the recency list.
func (t *MemoryLinkTable) sweep() {
	now := t.opts.Now()
	for elem := t.order.Back(); elem != nil; elem = t.order.Back() {
		if !t.opts.expired(elem.Value.(*LinkEntity).LastAccess, now) {
			return
		}
		t.remove(elem)
		metrics.LinkEvictions.WithLabelValues("expired").Inc()
	}
}

// evict drops the entry with the oldest timestamp.
func (t *MemoryLinkTable) evict() {
	if elem := t.order.Back(); elem != nil {
		t.remove(elem)
		metrics.LinkEvictions.WithLabelValues("capacity").Inc()
	}
}

func (t *MemoryLinkTable) remove(elem *list.Element) {
	t.order.Remove(elem)
	delete(t.items, elem.Value.(*LinkEntity).ShortID)
}
