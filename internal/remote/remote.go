// Package remote defines how the engine sees a repository: handles to the
// counterparts of local nodes, and the strategy that fetches and serializes them.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/openmined/syftsync/internal/syncstore"
	"github.com/openmined/syftsync/internal/tree"
)

// Handle is the counterpart of a local node in a repository or base snapshot.
type Handle interface {
	Name() string
	IsContainer() bool
	// Members lists the children of a container. It may block on the network.
	Members(ctx context.Context) ([]Handle, error)
}

// Opener is implemented by handles whose content can be read.
type Opener interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Revisioned is implemented by handles carrying a revision id.
type Revisioned interface {
	Revision() string
}

// Digester is implemented by handles that know the MD5 of their content.
type Digester interface {
	Digest() string
}

// Serializer converts handles to the markers kept in a syncstore and back.
type Serializer interface {
	ToBytes(h Handle) (syncstore.Marker, error)
	FromBytes(node tree.LocalNode, m syncstore.Marker) (Handle, error)
}

// Marker kinds shared by every repository. Base and remote markers may come
// from different repositories and still decode into one another.
const (
	KindFile = "file"
	KindDir  = "dir"
)

// Identity is the content identity every marker carries next to its
// repository specific fields. ETag is the hex MD5 of the content when the
// repository knows it.
type Identity struct {
	Kind string `json:"kind"`
	ETag string `json:"etag,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// SameIdentity reports whether a and b describe the same content, ignoring
// repository specific fields such as write times. Markers that do not decode
// compare byte for byte.
func SameIdentity(a, b syncstore.Marker) bool {
	if a == nil || b == nil {
		return a.Equal(b)
	}
	var ia, ib Identity
	if json.Unmarshal(a, &ia) != nil || json.Unmarshal(b, &ib) != nil {
		return a.Equal(b)
	}
	return ia == ib
}

// Repository is the strategy for one concrete kind of repository.
type Repository interface {
	Serializer
	// FetchTree returns the handle for node, nil if it does not exist remotely.
	// Implementations may prefetch down to depth.
	FetchTree(ctx context.Context, node tree.LocalNode, depth tree.Depth) (Handle, error)
	// IsDescendant reports whether remote succeeds base on the same line of history.
	IsDescendant(node tree.LocalNode, base, remote syncstore.Marker) bool
}

// TransportError is a failed exchange with a repository.
type TransportError struct {
	Op   string
	Node tree.LocalNode
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("remote %s %s: %v", e.Op, e.Node, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Transport wraps err as a TransportError unless it is nil, already one,
// or a context error.
func Transport(op string, node tree.LocalNode, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &TransportError{Op: op, Node: node, Err: err}
}
