package project

import (
	"context"
	"errors"
	"sync"
)

// ErrProjectNotFound indicates that no active project exists for the
// given id. Inactive projects return the same error so callers cannot
// distinguish a missing project from a suspended one.
var ErrProjectNotFound = errors.New("project not found")

// Store resolves projects by id.
type Store interface {
	// FindActiveByID returns the active project with the given id, or
	// ErrProjectNotFound if the project is absent or inactive.
	FindActiveByID(ctx context.Context, id string) (*Project, error)
}

// MemoryStore is an in-memory implementation of the Store interface.
type MemoryStore struct {
	projects map[string]*Project
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory project store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects: make(map[string]*Project),
	}
}

// FindActiveByID returns the active project with the given id.
func (s *MemoryStore) FindActiveByID(ctx context.Context, id string) (*Project, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.projects[id]
	if !ok || !p.IsActive() {
		return nil, ErrProjectNotFound
	}

	return p, nil
}

// Put adds or replaces a project.
func (s *MemoryStore) Put(p *Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[p.ID] = p
}

// Replace swaps the full project set. Used on configuration reload.
func (s *MemoryStore) Replace(projects []*Project) {
	next := make(map[string]*Project, len(projects))
	for _, p := range projects {
		next[p.ID] = p
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects = next
}

// Count returns the number of projects in the store.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.projects)
}

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
