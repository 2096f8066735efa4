// Package versioning tracks the installed version of every schema item and
// persists it through a pluggable Backend.
package versioning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/GoCodeAlone/schemachain/graph"
	"github.com/GoCodeAlone/schemachain/version"
)

// ErrNotLoaded is returned by Commit when Load was never called.
var ErrNotLoaded = errors.New("version store not loaded")

// Record is the persisted state of one item.
type Record struct {
	FullName string           `json:"fullName" yaml:"fullName"`
	ItemType string           `json:"itemType,omitempty" yaml:"itemType,omitempty"`
	Version  *version.Version `json:"version,omitempty" yaml:"version,omitempty"`
	Deleted  bool             `json:"deleted,omitempty" yaml:"deleted,omitempty"`

	// Accessed is set when the record was looked up during the current run.
	// It is never persisted.
	Accessed bool `json:"-" yaml:"-"`
}

// Installed reports whether the record denotes a live object.
func (r Record) Installed() bool { return r.Version != nil && !r.Deleted }

func (r Record) clone() Record {
	if r.Version != nil {
		r.Version = r.Version.Ptr()
	}
	return r
}

// Backend loads and persists records. Save upserts the given rows, matching
// them by case-insensitive FullName.
type Backend interface {
	Load(ctx context.Context) ([]Record, error)
	Save(ctx context.Context, rows []Record) error
}

type change struct {
	fullName string
	itemType string
	version  *version.Version
	deleted  bool
}

// VersionStore is the per-run working set over a Backend. Lookups always see
// the state as of Load; recorded versions are staged and written by Commit.
type VersionStore struct {
	backend Backend
	logger  *slog.Logger

	mu      sync.Mutex
	loaded  bool
	records map[string]*Record
	staged  map[string]*change
	// aliases maps an item key to the historical record key its version was
	// found under.
	aliases map[string]string
}

// NewVersionStore creates a VersionStore. A nil logger falls back to
// slog.Default().
func NewVersionStore(backend Backend, logger *slog.Logger) *VersionStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &VersionStore{
		backend: backend,
		logger:  logger,
		records: make(map[string]*Record),
		staged:  make(map[string]*change),
		aliases: make(map[string]string),
	}
}

// Load reads every record from the backend, discarding any staged change.
func (s *VersionStore) Load(ctx context.Context) (map[string]Record, error) {
	rows, err := s.backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load version records: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]*Record, len(rows))
	s.staged = make(map[string]*change)
	s.aliases = make(map[string]string)
	out := make(map[string]Record, len(rows))
	for _, r := range rows {
		r := r.clone()
		r.Accessed = false
		s.records[graph.Key(r.FullName)] = &r
		out[r.FullName] = r.clone()
	}
	s.loaded = true
	return out, nil
}

// Lookup returns the recorded version of item, or nil when it was never
// installed, and marks the record accessed. When the current name has no
// live record the item's previous names are tried newest first; a hit there
// is carried over to the current name by the next RecordVersion.
func (s *VersionStore) Lookup(item *graph.Item) *version.Version {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := item.Key()
	if r, ok := s.records[key]; ok {
		r.Accessed = true
		if r.Installed() {
			return r.Version.Ptr()
		}
	}
	for _, prev := range item.PreviousNames {
		pk := graph.Key(prev.Name)
		r, ok := s.records[pk]
		if !ok {
			continue
		}
		r.Accessed = true
		if !r.Installed() {
			continue
		}
		s.aliases[key] = pk
		s.logger.Info("version found under previous name",
			"item", item.FullName,
			"previous", r.FullName,
			"version", r.Version.String())
		return r.Version.Ptr()
	}
	return nil
}

// Get returns the loaded record for name without marking it accessed.
func (s *VersionStore) Get(name string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[graph.Key(name)]
	if !ok {
		return Record{}, false
	}
	return r.clone(), true
}

// RecordVersion stages v as the new version of name. When several phases of
// one run record a version for the same item, the lowest one is kept so that
// a phase which fell short is attempted again by the next run.
func (s *VersionStore) RecordVersion(name string, v version.Version, itemType string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := graph.Key(name)
	if c, ok := s.staged[key]; ok && !c.deleted && c.version != nil {
		if c.version.Less(v) {
			v = *c.version
		}
	}
	s.staged[key] = &change{fullName: name, itemType: itemType, version: v.Ptr()}
}

// RecordDeleted stages the deletion of name.
func (s *VersionStore) RecordDeleted(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staged[graph.Key(name)] = &change{fullName: name, deleted: true}
}

// Discard drops any staged change for name.
func (s *VersionStore) Discard(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.staged, graph.Key(name))
}

// Staged returns the version staged for name, if any.
func (s *VersionStore) Staged(name string) (*version.Version, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.staged[graph.Key(name)]
	if !ok || c.deleted {
		return nil, false
	}
	return c.version.Ptr(), true
}

// Commit writes staged changes. Unless keepUnaccessed is set, every live
// record that was not looked up since Load is flagged deleted. Records whose
// version was carried over to a new name are flagged deleted too.
func (s *VersionStore) Commit(ctx context.Context, keepUnaccessed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		return ErrNotLoaded
	}

	rows := make(map[string]Record)
	for key, c := range s.staged {
		if c.deleted {
			r, ok := s.records[key]
			if !ok || r.Deleted {
				continue
			}
			row := r.clone()
			row.Deleted = true
			rows[key] = row
			continue
		}
		row := Record{FullName: c.fullName, ItemType: c.itemType, Version: c.version.Ptr()}
		if r, ok := s.records[key]; ok && row.ItemType == "" {
			row.ItemType = r.ItemType
		}
		rows[key] = row

		if old, ok := s.aliases[key]; ok && old != key {
			if _, restaged := s.staged[old]; !restaged {
				if r := s.records[old]; r != nil && !r.Deleted {
					prev := r.clone()
					prev.Deleted = true
					rows[old] = prev
				}
			}
		}
	}

	if !keepUnaccessed {
		for key, r := range s.records {
			if r.Accessed || r.Deleted {
				continue
			}
			if _, ok := rows[key]; ok {
				continue
			}
			s.logger.Info("pruning unaccessed version record", "item", r.FullName, "version", version.Format(r.Version))
			row := r.clone()
			row.Deleted = true
			rows[key] = row
		}
	}

	if len(rows) == 0 {
		s.staged = make(map[string]*change)
		return nil
	}

	keys := make([]string, 0, len(rows))
	for k := range rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	batch := make([]Record, 0, len(keys))
	for _, k := range keys {
		batch = append(batch, rows[k])
	}

	if err := s.backend.Save(ctx, batch); err != nil {
		return fmt.Errorf("save version records: %w", err)
	}

	for _, k := range keys {
		row := rows[k]
		if prev, ok := s.records[k]; ok {
			row.Accessed = prev.Accessed
		}
		s.records[k] = &row
	}
	s.staged = make(map[string]*change)
	s.logger.Debug("version records committed", "rows", len(batch), "keep_unaccessed", keepUnaccessed)
	return nil
}

// Records returns every loaded record ordered by name.
func (s *VersionStore) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Record, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.records[k].clone())
	}
	return out
}
