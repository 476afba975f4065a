package syncstore

import (
	"sort"

	"github.com/openmined/syftsync/internal/tree"
)

// DescendantFunc reports whether the remote marker succeeds the base marker
// on the same line of history. It is repository specific.
type DescendantFunc func(node tree.LocalNode, base, remote Marker) bool

// DescendantStore layers a remote store over a base store. Remote markers
// equal to the base marker are not stored; reads fall back to the base marker
// for nodes whose remote was never fetched.
type DescendantStore struct {
	base         Store
	remote       Store
	isDescendant DescendantFunc
	equal        func(a, b Marker) bool
}

type DescendantOption func(*DescendantStore)

// WithMarkerEqual decides when a remote marker matches the base marker and is
// elided. Base and remote markers written by different repositories need it.
// The default compares bytes.
func WithMarkerEqual(equal func(a, b Marker) bool) DescendantOption {
	return func(s *DescendantStore) {
		s.equal = equal
	}
}

func NewDescendantStore(base, remote Store, isDescendant DescendantFunc, opts ...DescendantOption) *DescendantStore {
	s := &DescendantStore{base: base, remote: remote, isDescendant: isDescendant, equal: Marker.Equal}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *DescendantStore) Base() Store {
	return s.base
}

func (s *DescendantStore) Remote() Store {
	return s.remote
}

func (s *DescendantStore) Get(node tree.LocalNode) (Marker, error) {
	remote, err := s.remote.Get(node)
	if err != nil {
		return nil, err
	}
	base, err := s.base.Get(node)
	if err != nil {
		return nil, err
	}

	if base == nil {
		return remote, nil
	}
	if remote == nil {
		known, err := s.remote.IsRemoteKnown(node)
		if err != nil {
			return nil, err
		}
		if known {
			return nil, nil
		}
		return base, nil
	}
	if s.isDescendant(node, base, remote) {
		return remote, nil
	}
	// remote is stale relative to base
	return base, nil
}

func (s *DescendantStore) Set(node tree.LocalNode, m Marker) (bool, error) {
	if m == nil {
		return false, ErrNilMarker
	}
	base, err := s.base.Get(node)
	if err != nil {
		return false, err
	}
	if base != nil && s.equal(base, m) {
		return s.remote.Remove(node, tree.Zero)
	}
	return s.remote.Set(node, m)
}

func (s *DescendantStore) SetAbsent(node tree.LocalNode) (bool, error) {
	return s.remote.SetAbsent(node)
}

// Remove only touches the remote store.
func (s *DescendantStore) Remove(node tree.LocalNode, depth tree.Depth) (bool, error) {
	return s.remote.Remove(node, depth)
}

// Purge drops the remote records below node. Nodes the base still knows are
// pinned as known-absent instead, otherwise reads would fall back to base.
func (s *DescendantStore) Purge(node tree.LocalNode) (bool, error) {
	pinned := make(map[string]tree.LocalNode)
	if err := collectRecorded(s.base, node, pinned); err != nil {
		return false, err
	}
	recorded := make(map[string]tree.LocalNode)
	if err := collectRecorded(s.remote, node, recorded); err != nil {
		return false, err
	}

	changed := false
	for path, n := range recorded {
		if _, ok := pinned[path]; ok {
			continue
		}
		c, err := s.remote.Remove(n, tree.Zero)
		if err != nil {
			return changed, err
		}
		changed = changed || c
	}
	for _, n := range pinned {
		c, err := s.remote.SetAbsent(n)
		if err != nil {
			return changed, err
		}
		changed = changed || c
	}
	return changed, nil
}

// collectRecorded gathers node and every recorded descendant of node in store.
func collectRecorded(store Store, node tree.LocalNode, into map[string]tree.LocalNode) error {
	known, err := store.IsRemoteKnown(node)
	if err != nil {
		return err
	}
	if known {
		into[node.Path] = node
	}

	children, err := store.Recorded(node)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := collectRecorded(store, child, into); err != nil {
			return err
		}
	}
	return nil
}

func (s *DescendantStore) IsRemoteKnown(node tree.LocalNode) (bool, error) {
	return s.remote.IsRemoteKnown(node)
}

// Members is the union of base and remote children that resolve to a marker.
func (s *DescendantStore) Members(node tree.LocalNode) ([]tree.LocalNode, error) {
	recorded, err := s.Recorded(node)
	if err != nil {
		return nil, err
	}

	members := recorded[:0]
	for _, child := range recorded {
		m, err := s.Get(child)
		if err != nil {
			return nil, err
		}
		if m != nil {
			members = append(members, child)
		}
	}
	return members, nil
}

// Recorded is the union of base and remote children with a record. Children
// known only to the base are included since their remote marker may have been
// elided.
func (s *DescendantStore) Recorded(node tree.LocalNode) ([]tree.LocalNode, error) {
	seen := make(map[string]tree.LocalNode)
	for _, store := range []Store{s.base, s.remote} {
		recorded, err := store.Recorded(node)
		if err != nil {
			return nil, err
		}
		for _, child := range recorded {
			seen[child.Path] = child
		}
	}

	nodes := make([]tree.LocalNode, 0, len(seen))
	for _, child := range seen {
		nodes = append(nodes, child)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Path < nodes[j].Path })
	return nodes, nil
}

// Dispose releases the remote store. The base store may be shared and is left alone.
func (s *DescendantStore) Dispose() error {
	return s.remote.Dispose()
}
