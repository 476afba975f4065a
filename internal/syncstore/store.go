// Package syncstore persists the per node sync markers recorded during a
// refresh. Markers live in a Backend shared by every store pointing at it and
// are partitioned by namespace, so a base and a remote store can record state
// for the same node without colliding.
package syncstore

import (
	"bytes"
	"errors"

	"github.com/openmined/syftsync/internal/tree"
)

var (
	ErrNilMarker       = errors.New("marker must not be nil")
	ErrStoreCorruption = errors.New("sync record corrupted")
	ErrDisposed        = errors.New("store disposed")
)

// Marker is the opaque serialized state of a remote handle.
type Marker []byte

// knownAbsent is recorded for nodes whose remote was fetched and did not exist.
var knownAbsent = Marker("\x00syftsync:no-remote\x00")

func (m Marker) Equal(other Marker) bool {
	if m == nil || other == nil {
		return m == nil && other == nil
	}
	return bytes.Equal(m, other)
}

func (m Marker) clone() Marker {
	if m == nil {
		return nil
	}
	return append(Marker(nil), m...)
}

func isKnownAbsent(m Marker) bool {
	return bytes.Equal(m, knownAbsent)
}

// Store records markers for local nodes.
//
// Get returns nil both when the node was never queried and when it was queried
// and found absent; IsRemoteKnown tells the two apart.
type Store interface {
	Get(node tree.LocalNode) (Marker, error)
	// Set records m for node and reports whether the stored value changed.
	Set(node tree.LocalNode, m Marker) (bool, error)
	// SetAbsent records that the remote counterpart of node does not exist.
	SetAbsent(node tree.LocalNode) (bool, error)
	// Remove forgets the records of node down to depth.
	Remove(node tree.LocalNode, depth tree.Depth) (bool, error)
	// Purge drops node and its descendants so that Get reports them absent.
	Purge(node tree.LocalNode) (bool, error)
	IsRemoteKnown(node tree.LocalNode) (bool, error)
	// Members lists the children of node for which Get returns a marker.
	Members(node tree.LocalNode) ([]tree.LocalNode, error)
	// Recorded lists the children of node holding a physical record in this store.
	Recorded(node tree.LocalNode) ([]tree.LocalNode, error)
	Dispose() error
}
