package syncstore

import (
	"fmt"
	"sync/atomic"

	"github.com/openmined/syftsync/internal/tree"
)

// RecordStore is a Store over one namespace of a Backend. Any number of
// RecordStores may share a namespace; they observe each other's writes.
type RecordStore struct {
	backend   Backend
	namespace string
	disposed  atomic.Bool
}

func NewRecordStore(backend Backend, namespace string) *RecordStore {
	return &RecordStore{backend: backend, namespace: namespace}
}

func (s *RecordStore) Namespace() string {
	return s.namespace
}

func (s *RecordStore) check() error {
	if s.disposed.Load() {
		return fmt.Errorf("%s: %w", s.namespace, ErrDisposed)
	}
	return nil
}

func (s *RecordStore) Get(node tree.LocalNode) (Marker, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	rec, err := s.backend.Load(s.namespace, node)
	if err != nil {
		return nil, err
	}
	if rec == nil || isKnownAbsent(rec.Marker) {
		return nil, nil
	}
	return rec.Marker, nil
}

func (s *RecordStore) Set(node tree.LocalNode, m Marker) (bool, error) {
	if err := s.check(); err != nil {
		return false, err
	}
	if m == nil {
		return false, ErrNilMarker
	}
	return s.backend.Save(s.namespace, node, m)
}

func (s *RecordStore) SetAbsent(node tree.LocalNode) (bool, error) {
	if err := s.check(); err != nil {
		return false, err
	}
	return s.backend.Save(s.namespace, node, knownAbsent)
}

func (s *RecordStore) Remove(node tree.LocalNode, depth tree.Depth) (bool, error) {
	if err := s.check(); err != nil {
		return false, err
	}
	return s.backend.Delete(s.namespace, node, depth)
}

func (s *RecordStore) Purge(node tree.LocalNode) (bool, error) {
	return s.Remove(node, tree.Infinite)
}

func (s *RecordStore) IsRemoteKnown(node tree.LocalNode) (bool, error) {
	if err := s.check(); err != nil {
		return false, err
	}
	rec, err := s.backend.Load(s.namespace, node)
	if err != nil {
		return false, err
	}
	return rec != nil, nil
}

func (s *RecordStore) Members(node tree.LocalNode) ([]tree.LocalNode, error) {
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

func (s *RecordStore) Recorded(node tree.LocalNode) ([]tree.LocalNode, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.backend.Children(s.namespace, node)
}

// Dispose drops every record of the namespace. The backend stays open for
// other namespaces.
func (s *RecordStore) Dispose() error {
	if s.disposed.Swap(true) {
		return nil
	}
	return s.backend.DropNamespace(s.namespace)
}
