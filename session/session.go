// Package session remembers which scripts already ran during a logical run so
// an interrupted run can resume without executing them twice.
package session

import (
	"context"
	"sync"

	"github.com/GoCodeAlone/schemachain/graph"
	"github.com/GoCodeAlone/schemachain/scripts"
)

// Key identifies one script execution: item, phase and script identity.
type Key struct {
	Item   string
	Phase  scripts.Phase
	Script string
}

// KeyFor returns the key of s.
func KeyFor(s *scripts.Script) Key {
	return Key{Item: s.Item, Phase: s.Phase, Script: s.ID()}
}

// String renders the key with the item name folded, so keys compare
// case-insensitively by their string form.
func (k Key) String() string {
	return graph.Key(k.Item) + "|" + k.Phase.String() + "|" + k.Script
}

// Memory records completed script executions. Implementations must persist
// across process restarts for resumption to work; InMemory is the exception.
type Memory interface {
	IsDone(ctx context.Context, key Key) (bool, error)
	MarkDone(ctx context.Context, key Key) error
	// Reset forgets every key. Called once a run completes.
	Reset(ctx context.Context) error
}

// InMemory is a process-local Memory.
type InMemory struct {
	mu   sync.Mutex
	done map[string]struct{}
}

// NewInMemory creates an empty InMemory.
func NewInMemory() *InMemory {
	return &InMemory{done: make(map[string]struct{})}
}

func (m *InMemory) IsDone(_ context.Context, key Key) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.done[key.String()]
	return ok, nil
}

func (m *InMemory) MarkDone(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.done[key.String()] = struct{}{}
	return nil
}

func (m *InMemory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.done = make(map[string]struct{})
	return nil
}

// Len returns the number of remembered keys.
func (m *InMemory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.done)
}
