package versioning

import (
	"context"
	"sort"
	"sync"

	"github.com/GoCodeAlone/schemachain/graph"
)

// MemoryBackend keeps records in process memory. Useful for tests and dry
// runs.
type MemoryBackend struct {
	mu   sync.Mutex
	rows map[string]Record
}

// NewMemoryBackend creates a MemoryBackend seeded with rows.
func NewMemoryBackend(rows ...Record) *MemoryBackend {
	b := &MemoryBackend{rows: make(map[string]Record, len(rows))}
	for _, r := range rows {
		b.rows[graph.Key(r.FullName)] = r.clone()
	}
	return b
}

func (b *MemoryBackend) Load(_ context.Context) ([]Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := make([]string, 0, len(b.rows))
	for k := range b.rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Record, 0, len(keys))
	for _, k := range keys {
		out = append(out, b.rows[k].clone())
	}
	return out, nil
}

func (b *MemoryBackend) Save(_ context.Context, rows []Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range rows {
		r = r.clone()
		r.Accessed = false
		b.rows[graph.Key(r.FullName)] = r
	}
	return nil
}
