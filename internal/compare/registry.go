package compare

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrUnknownCriteria   = errors.New("unknown comparison criteria")
	ErrDuplicateCriteria = errors.New("comparison criteria already registered")
)

// Registry holds the criteria available to a subscriber and which one is current.
type Registry struct {
	mu       sync.RWMutex
	criteria map[string]Criteria
	order    []string
	current  string
}

// NewRegistry registers criteria in order. The first one becomes current.
func NewRegistry(criteria ...Criteria) (*Registry, error) {
	r := &Registry{criteria: make(map[string]Criteria)}
	for _, c := range criteria {
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// DefaultRegistry has content comparison current, short-circuited by stored
// digests and revisions.
func DefaultRegistry() *Registry {
	fast := []Criteria{RevisionCriteria{}, DigestCriteria{}}
	r, _ := NewRegistry(
		ContentCriteria{Preconditions: fast},
		ContentCriteria{IgnoreWhitespace: true, Preconditions: fast},
		DigestCriteria{Compute: true, Preconditions: []Criteria{RevisionCriteria{}}},
		RevisionCriteria{},
	)
	return r
}

func (r *Registry) Register(c Criteria) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.criteria[c.ID()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateCriteria, c.ID())
	}
	r.criteria[c.ID()] = c
	r.order = append(r.order, c.ID())
	if r.current == "" {
		r.current = c.ID()
	}
	return nil
}

func (r *Registry) Get(id string) (Criteria, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.criteria[id]
	return c, ok
}

// List returns the criteria in registration order.
func (r *Registry) List() []Criteria {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Criteria, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.criteria[id])
	}
	return out
}

// Current returns nil for an empty registry.
func (r *Registry) Current() Criteria {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.criteria[r.current]
}

// Select makes id current. An unknown id leaves the current criteria unchanged.
func (r *Registry) Select(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.criteria[id]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCriteria, id)
	}
	r.current = id
	return nil
}
