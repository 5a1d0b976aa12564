package location

import (
	"context"
	"sync"
)

// Store persists Location Records and the alias mappings learned by the
// fuzzy tier. Implementations must support concurrent reads and atomic
// insert-if-absent so two concurrent resolutions of the same normalized
// name converge on a single stored record.
type Store interface {
	// Get looks up a record by normalized name or by a learned alias.
	Get(ctx context.Context, normalized string) (Record, bool, error)
	// InsertIfAbsent stores the record unless the normalized name already
	// exists, in which case only empty fields of the stored record are
	// filled. Returns the record as stored.
	InsertIfAbsent(ctx context.Context, rec Record) (Record, error)
	// AddAlias maps a normalized raw input to an existing record's
	// normalized name. Idempotent.
	AddAlias(ctx context.Context, alias, normalized string) error
	// Names lists all stored normalized names, for seeding the fuzzy index.
	Names(ctx context.Context) ([]string, error)
}

// MemoryStore is an in-process Store used in tests and when no database is
// configured.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	aliases map[string]string
}

// NewMemoryStore returns an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
		aliases: make(map[string]string),
	}
}

func (s *MemoryStore) Get(_ context.Context, normalized string) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rec, ok := s.records[normalized]; ok {
		return rec, true, nil
	}
	if target, ok := s.aliases[normalized]; ok {
		if rec, ok := s.records[target]; ok {
			return rec, true, nil
		}
	}
	return Record{}, false, nil
}

func (s *MemoryStore) InsertIfAbsent(_ context.Context, rec Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.records[rec.NormalizedName]
	if !ok {
		s.records[rec.NormalizedName] = rec
		return rec, nil
	}
	existing.fillFrom(rec)
	s.records[rec.NormalizedName] = existing
	return existing, nil
}

func (s *MemoryStore) AddAlias(_ context.Context, alias, normalized string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if alias == normalized {
		return nil
	}
	if _, ok := s.aliases[alias]; !ok {
		s.aliases[alias] = normalized
	}
	return nil
}

func (s *MemoryStore) Names(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.records))
	for name := range s.records {
		names = append(names, name)
	}
	return names, nil
}
