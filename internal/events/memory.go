package events

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps events in a slice. It backs tests and short replays.
type MemoryStore struct {
	mu     sync.RWMutex
	events []Event
	nextID int64
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) Append(_ context.Context, e Event) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == 0 {
		e.ID = m.nextID + 1
	}
	if e.ID > m.nextID {
		m.nextID = e.ID
	}
	m.events = append(m.events, e)
	return e.ID, nil
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

func (m *MemoryStore) LatestState(_ context.Context, field Field, after, before time.Time) (Event, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best Event
	found := false
	for _, e := range m.events {
		if e.Kind != KindState || !InWindow(e.Time, after, before) || !e.Attrs().Has(field) {
			continue
		}
		if !found || !e.Time.Before(best.Time) {
			best, found = e, true
		}
	}
	return best, found, nil
}

func (m *MemoryStore) ByTypes(_ context.Context, types []string, after, before time.Time) ([]Event, error) {
	want := make(map[string]bool, len(types))
	for _, t := range types {
		want[t] = true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Event
	for _, e := range m.events {
		if e.Kind == KindEvent && InWindow(e.Time, after, before) && want[e.Attrs().Type] {
			out = append(out, e)
		}
	}
	SortByTime(out)
	return out, nil
}

func (m *MemoryStore) Range(_ context.Context, after, before time.Time) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Event
	for _, e := range m.events {
		if InWindow(e.Time, after, before) {
			out = append(out, e)
		}
	}
	SortByTime(out)
	return out, nil
}

// SortByTime orders events by time, then id.
func SortByTime(evs []Event) {
	sort.SliceStable(evs, func(i, j int) bool {
		if !evs[i].Time.Equal(evs[j].Time) {
			return evs[i].Time.Before(evs[j].Time)
		}
		return evs[i].ID < evs[j].ID
	})
}
