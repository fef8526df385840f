package templates

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// ErrNotFound is returned when no active template matches.
var ErrNotFound = errors.New("templates: not found")

// Store persists templates by name.
type Store interface {
	// List returns active templates, optionally filtered by type.
	List(ctx context.Context, typ MessageType) ([]Template, error)
	// ForType returns the active template used for a message type.
	ForType(ctx context.Context, typ MessageType) (*Template, error)
	// Upsert creates or replaces the template with the same name.
	Upsert(ctx context.Context, t Template) error
	// InsertIfAbsent stores t unless a template of that name exists. It
	// reports whether t was inserted.
	InsertIfAbsent(ctx context.Context, t Template) (bool, error)
}

// SeedDefaults inserts the default templates that are not already present.
func SeedDefaults(ctx context.Context, store Store, log zerolog.Logger) error {
	inserted := 0
	for _, t := range Defaults() {
		ok, err := store.InsertIfAbsent(ctx, t)
		if err != nil {
			return fmt.Errorf("seed template %s: %w", t.Name, err)
		}
		if ok {
			inserted++
		}
	}

	log.Info().Int("inserted", inserted).Int("defaults", len(Defaults())).Msg("default templates seeded")
	return nil
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{templates: make(map[string]Template)}
}

func (s *MemoryStore) List(_ context.Context, typ MessageType) ([]Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Template
	for _, t := range s.templates {
		if !t.Active || (typ != "" && t.Type != typ) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) ForType(ctx context.Context, typ MessageType) (*Template, error) {
	list, err := s.List(ctx, typ)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("template for type %s: %w", typ, ErrNotFound)
	}
	return &list[0], nil
}

func (s *MemoryStore) Upsert(_ context.Context, t Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[t.Name] = t
	return nil
}

func (s *MemoryStore) InsertIfAbsent(_ context.Context, t Template) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[t.Name]; ok {
		return false, nil
	}
	s.templates[t.Name] = t
	return true, nil
}
