package syncstore

import (
	"sort"
	"strings"
	"sync"

	"github.com/openmined/syftsync/internal/tree"
)

// Record is a raw backend entry.
type Record struct {
	Marker    Marker
	Container bool
}

// Backend is the shared keyed map behind every RecordStore.
type Backend interface {
	Load(namespace string, node tree.LocalNode) (*Record, error)
	// Save stores the record and reports whether the marker differs from the previous one.
	Save(namespace string, node tree.LocalNode, m Marker) (bool, error)
	Delete(namespace string, node tree.LocalNode, depth tree.Depth) (bool, error)
	Children(namespace string, parent tree.LocalNode) ([]tree.LocalNode, error)
	DropNamespace(namespace string) error
	Close() error
}

// MemoryBackend keeps every namespace in process memory.
type MemoryBackend struct {
	mu      sync.RWMutex
	records map[string]map[string]*Record
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		records: make(map[string]map[string]*Record),
	}
}

func (b *MemoryBackend) Load(namespace string, node tree.LocalNode) (*Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rec, ok := b.records[namespace][node.Path]
	if !ok {
		return nil, nil
	}
	return &Record{Marker: rec.Marker.clone(), Container: rec.Container}, nil
}

func (b *MemoryBackend) Save(namespace string, node tree.LocalNode, m Marker) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ns, ok := b.records[namespace]
	if !ok {
		ns = make(map[string]*Record)
		b.records[namespace] = ns
	}

	if prev, ok := ns[node.Path]; ok && prev.Marker.Equal(m) {
		prev.Container = node.Container
		return false, nil
	}
	ns[node.Path] = &Record{Marker: m.clone(), Container: node.Container}
	return true, nil
}

func (b *MemoryBackend) Delete(namespace string, node tree.LocalNode, depth tree.Depth) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ns := b.records[namespace]
	changed := false
	for path := range ns {
		if inScope(node, path, depth) {
			delete(ns, path)
			changed = true
		}
	}
	return changed, nil
}

func (b *MemoryBackend) Children(namespace string, parent tree.LocalNode) ([]tree.LocalNode, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var children []tree.LocalNode
	for path, rec := range b.records[namespace] {
		node := tree.LocalNode{Path: path, Container: rec.Container}
		if path != "" && node.Parent().Path == parent.Path {
			children = append(children, node)
		}
	}
	sort.Slice(children, func(i, j int) bool { return children[i].Path < children[j].Path })
	return children, nil
}

func (b *MemoryBackend) DropNamespace(namespace string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.records, namespace)
	return nil
}

func (b *MemoryBackend) Close() error {
	return nil
}

// inScope reports whether path lies within depth of node.
func inScope(node tree.LocalNode, path string, depth tree.Depth) bool {
	if path == node.Path {
		return true
	}
	switch depth {
	case tree.Zero:
		return false
	case tree.One:
		return path != "" && tree.LocalNode{Path: path}.Parent().Path == node.Path
	default:
		if node.IsRoot() {
			return true
		}
		return strings.HasPrefix(path, node.Path+"/")
	}
}
