package audit

import (
	"context"
	"errors"
	"sync"
)

// memWriter keeps written entries in memory
type memWriter struct {
	mu      sync.Mutex
	entries []*Entry
	nextID  int64
	err     error
	panics  bool
}

func (m *memWriter) Write(ctx context.Context, entry *Entry) error {
	if m.panics {
		panic("writer exploded")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.nextID++
	entry.ID = m.nextID
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memWriter) all() []*Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

func (m *memWriter) actions() []string {
	var out []string
	for _, e := range m.all() {
		out = append(out, e.Action)
	}
	return out
}

func (m *memWriter) last() *Entry {
	all := m.all()
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}

// List and Get make memWriter a Reader for handler tests
func (m *memWriter) List(ctx context.Context, filter Filter) ([]*Entry, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make([]*Entry, 0)
	for _, e := range m.all() {
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		if filter.UserID != nil && (e.UserID == nil || *e.UserID != *filter.UserID) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *memWriter) Get(ctx context.Context, id int64) (*Entry, error) {
	for _, e := range m.all() {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, ErrNotFound
}

// queueFunc adapts a function to Queue
type queueFunc func(ctx context.Context, entry *Entry) error

func (f queueFunc) Enqueue(ctx context.Context, entry *Entry) error { return f(ctx, entry) }

var errBoom = errors.New("boom")
