package rules

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Definition is the stored form of a registered rule: the declared key
// specs as raw strings ("[]" suffixes included), canonical macro
// calls, the each-mode flag, and the CEL check expression. Rule()
// rebuilds the dispatchable snapshot from it.
type Definition struct {
	ID         string
	Name       string
	Keys       []string
	Macros     []MacroCall
	Each       bool
	Expression string
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Rule builds the immutable dispatch snapshot for this definition.
func (d *Definition) Rule() *Rule {
	keys := make([]any, len(d.Keys))
	for i, k := range d.Keys {
		keys[i] = k
	}

	specs := make([]any, 0, len(d.Macros)+1)
	for _, call := range d.Macros {
		specs = append(specs, call)
	}
	if d.Expression != "" {
		specs = append(specs, Expr(d.Expression))
	}

	b := NewRule(keys...)
	if d.Each {
		return b.Each(specs...).Build()
	}
	return b.Validate(specs...).Build()
}

// DefinitionStore manages rule definition persistence and retrieval.
type DefinitionStore interface {
	// Add a new definition
	Add(def *Definition) error

	// Get a definition by ID
	Get(id string) (*Definition, error)

	// List all active definitions
	ListActive() ([]*Definition, error)

	// Update an existing definition
	Update(def *Definition) error

	// Delete a definition
	Delete(id string) error
}

// InMemoryDefinitionStore implements DefinitionStore with a map.
// Thread-safe with RWMutex.
type InMemoryDefinitionStore struct {
	defs map[string]*Definition
	mu   sync.RWMutex
}

func NewInMemoryDefinitionStore() *InMemoryDefinitionStore {
	return &InMemoryDefinitionStore{
		defs: make(map[string]*Definition),
	}
}

// Add stores a new definition, enforcing unique IDs and setting the
// timestamps.
func (s *InMemoryDefinitionStore) Add(def *Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.defs[def.ID]; exists {
		return fmt.Errorf("definition with ID %s already exists", def.ID)
	}

	now := time.Now()
	def.CreatedAt = now
	def.UpdatedAt = now
	s.defs[def.ID] = def
	return nil
}

func (s *InMemoryDefinitionStore) Get(id string) (*Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, exists := s.defs[id]
	if !exists {
		return nil, fmt.Errorf("definition with ID %s not found", id)
	}
	return def, nil
}

func (s *InMemoryDefinitionStore) ListActive() ([]*Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active []*Definition
	for _, def := range s.defs {
		if def.Active {
			active = append(active, def)
		}
	}
	// Registration order, same as the Postgres store's ORDER BY.
	sort.Slice(active, func(i, j int) bool {
		if active[i].CreatedAt.Equal(active[j].CreatedAt) {
			return active[i].ID < active[j].ID
		}
		return active[i].CreatedAt.Before(active[j].CreatedAt)
	})
	return active, nil
}

// Update replaces an existing definition, preserving CreatedAt.
func (s *InMemoryDefinitionStore) Update(def *Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.defs[def.ID]
	if !exists {
		return fmt.Errorf("definition with ID %s not found", def.ID)
	}

	def.CreatedAt = existing.CreatedAt
	def.UpdatedAt = time.Now()
	s.defs[def.ID] = def
	return nil
}

func (s *InMemoryDefinitionStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.defs[id]; !exists {
		return fmt.Errorf("definition with ID %s not found", id)
	}

	delete(s.defs, id)
	return nil
}
