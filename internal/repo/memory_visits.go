package repo

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryVisitLedger is a fixed-size ring; appending to a full ledger
// overwrites the oldest visit.
type MemoryVisitLedger struct {
	mu     sync.RWMutex
	buf    []VisitEntity
	next   int
	size   int
	nextID int64
}

func NewMemoryVisitLedger(capacity int) *MemoryVisitLedger {
	if capacity <= 0 {
		capacity = DefaultVisitCapacity
	}
	return &MemoryVisitLedger{buf: make([]VisitEntity, capacity)}
}

func (l *MemoryVisitLedger) Append(_ context.Context, visit VisitEntity) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	visit.ID = l.nextID
	l.buf[l.next] = visit
	l.next = (l.next + 1) % len(l.buf)
	if l.size < len(l.buf) {
		l.size++
	}
	return nil
}

func (l *MemoryVisitLedger) List(_ context.Context) ([]VisitEntity, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]VisitEntity, 0, l.size)
	for i := 1; i <= l.size; i++ {
		idx := (l.next - i + len(l.buf)) % len(l.buf)
		out = append(out, l.buf[idx])
	}
	return out, nil
}

func (l *MemoryVisitLedger) CountByField(ctx context.Context, field string) ([]FieldStat, error) {
	if !supportedField(field) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedField, field)
	}

	visits, err := l.List(ctx)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64)
	for _, v := range visits {
		counts[fieldValue(v, field)]++
	}

	stats := make([]FieldStat, 0, len(counts))
	for value, count := range counts {
		stats = append(stats, FieldStat{Value: value, Count: count})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Count != stats[j].Count {
			return stats[i].Count > stats[j].Count
		}
		return stats[i].Value < stats[j].Value
	})
	return stats, nil
}

func fieldValue(v VisitEntity, field string) string {
	var value string
	switch field {
	case "browser":
		value = v.Browser
	case "os":
		value = v.OS
	case "device":
		value = v.Device
	case "country":
		if v.Country != nil {
			value = *v.Country
		}
	}
	if value == "" {
		return "Unknown"
	}
	return value
}
