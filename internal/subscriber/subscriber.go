// Package subscriber keeps a base cache and a remote cache of a workspace up
// to date and answers, per node, how local, base and remote relate.
package subscriber

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/openmined/syftsync/internal/compare"
	"github.com/openmined/syftsync/internal/handlecache"
	"github.com/openmined/syftsync/internal/remote"
	"github.com/openmined/syftsync/internal/syncstore"
	"github.com/openmined/syftsync/internal/tree"
)

const defaultName = "syftsync"

var (
	ErrDisposed      = errors.New("subscriber disposed")
	ErrMissingOption = errors.New("missing subscriber option")
)

type LifecycleState uint8

const (
	Uninitialized LifecycleState = iota
	Ready
	Refreshing
	Disposed
)

func (s LifecycleState) String() string {
	switch s {
	case Ready:
		return "ready"
	case Refreshing:
		return "refreshing"
	case Disposed:
		return "disposed"
	default:
		return "uninitialized"
	}
}

// Ignorer is satisfied by *ignore.Registry.
type Ignorer interface {
	IsIgnored(node tree.LocalNode) bool
}

type Options struct {
	// Name prefixes the store namespaces, so several subscribers can share a backend.
	Name    string
	Tree    tree.LocalTree
	Remote  remote.Repository
	Base    remote.Repository
	Backend syncstore.Backend
	// Ignore and Criteria are optional.
	Ignore   Ignorer
	Criteria *compare.Registry
	// Roots overrides the refresh roots. By default every project found
	// locally or in the caches is a root.
	Roots []tree.LocalNode
}

// ChangeEvent is delivered once per refresh that changed something.
type ChangeEvent struct {
	BatchID uuid.UUID
	Nodes   []tree.LocalNode
}

type Listener func(s *Subscriber, ev ChangeEvent)

type Subscriber struct {
	name     string
	tree     tree.LocalTree
	ignore   Ignorer
	criteria *compare.Registry
	roots    []tree.LocalNode

	baseStore   *syncstore.RecordStore
	remoteStore *syncstore.DescendantStore
	base        *handlecache.Cache
	remote      *handlecache.Cache

	// compares local content with the base snapshot
	dirtyCriteria compare.Criteria

	mu         sync.Mutex
	state      LifecycleState
	refreshing int
	listeners  map[uuid.UUID]Listener
}

func New(opts Options) (*Subscriber, error) {
	switch {
	case opts.Tree == nil:
		return nil, fmt.Errorf("%w: tree", ErrMissingOption)
	case opts.Remote == nil:
		return nil, fmt.Errorf("%w: remote repository", ErrMissingOption)
	case opts.Base == nil:
		return nil, fmt.Errorf("%w: base repository", ErrMissingOption)
	case opts.Backend == nil:
		return nil, fmt.Errorf("%w: backend", ErrMissingOption)
	}

	s := &Subscriber{
		name:      opts.Name,
		tree:      opts.Tree,
		ignore:    opts.Ignore,
		criteria:  opts.Criteria,
		roots:     opts.Roots,
		listeners: make(map[uuid.UUID]Listener),
		dirtyCriteria: compare.ContentCriteria{
			Preconditions: []compare.Criteria{compare.DigestCriteria{}},
		},
	}
	if s.name == "" {
		s.name = defaultName
	}
	if s.criteria == nil {
		s.criteria = compare.DefaultRegistry()
	}

	s.baseStore = syncstore.NewRecordStore(opts.Backend, s.name+".base")
	s.remoteStore = syncstore.NewDescendantStore(
		s.baseStore,
		syncstore.NewRecordStore(opts.Backend, s.name+".remote"),
		opts.Remote.IsDescendant,
		syncstore.WithMarkerEqual(remote.SameIdentity),
	)

	s.remote = handlecache.New(opts.Tree, s.remoteStore, opts.Remote, handlecache.WithFilter(s.remoteFilter))
	s.base = handlecache.New(opts.Tree, s.baseStore, opts.Base, handlecache.WithFilter(s.baseFilter))

	s.state = Ready
	return s, nil
}

func (s *Subscriber) Name() string {
	return s.name
}

func (s *Subscriber) State() LifecycleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Ready && s.refreshing > 0 {
		return Refreshing
	}
	return s.state
}

func (s *Subscriber) checkAlive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Disposed {
		return ErrDisposed
	}
	return nil
}

// Refresh brings the remote cache and then the base cache up to date for
// nodes down to depth, and notifies listeners once with every node that
// changed in either cache. With no nodes, all roots are refreshed. The
// changed nodes are returned even when the refresh fails part way.
func (s *Subscriber) Refresh(ctx context.Context, nodes []tree.LocalNode, depth tree.Depth) ([]tree.LocalNode, error) {
	if err := s.beginRefresh(); err != nil {
		return nil, err
	}
	defer s.endRefresh()

	if len(nodes) == 0 {
		roots, err := s.Roots()
		if err != nil {
			return nil, err
		}
		nodes = roots
	}

	var supervised []tree.LocalNode
	for _, n := range nodes {
		ok, err := s.IsSupervised(n)
		if err != nil {
			return nil, err
		}
		if ok {
			supervised = append(supervised, n)
		}
	}

	slog.Debug("subscriber refresh", "name", s.name, "roots", len(supervised), "depth", depth)

	// remote first, the base filter reads the fresh remote records
	remoteChanged, remoteErr := s.remote.Refresh(ctx, supervised, depth)
	var baseChanged []tree.LocalNode
	var baseErr error
	if ctx.Err() == nil {
		baseChanged, baseErr = s.base.Refresh(ctx, supervised, depth)
	}

	changed := union(remoteChanged, baseChanged)
	if len(changed) > 0 {
		s.notify(ChangeEvent{BatchID: uuid.New(), Nodes: changed})
	}

	if err := errors.Join(remoteErr, baseErr); err != nil {
		return changed, err
	}
	if err := ctx.Err(); err != nil {
		return changed, fmt.Errorf("refresh: %w", err)
	}
	return changed, nil
}

func (s *Subscriber) beginRefresh() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Disposed {
		return ErrDisposed
	}
	s.refreshing++
	return nil
}

func (s *Subscriber) endRefresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshing--
}

func union(a, b []tree.LocalNode) []tree.LocalNode {
	seen := make(map[string]tree.LocalNode, len(a)+len(b))
	for _, list := range [][]tree.LocalNode{a, b} {
		for _, n := range list {
			seen[n.Path] = n
		}
	}
	out := make([]tree.LocalNode, 0, len(seen))
	for _, n := range seen {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Roots returns the configured roots, or every project known locally or to
// either cache.
func (s *Subscriber) Roots() ([]tree.LocalNode, error) {
	if err := s.checkAlive(); err != nil {
		return nil, err
	}
	if len(s.roots) > 0 {
		return append([]tree.LocalNode(nil), s.roots...), nil
	}

	local, err := s.tree.Children(tree.Root)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	remoteMembers, err := s.remote.Members(tree.Root)
	if err != nil {
		return nil, err
	}
	baseMembers, err := s.base.Members(tree.Root)
	if err != nil {
		return nil, err
	}

	var roots []tree.LocalNode
	for _, n := range union(union(local, remoteMembers), baseMembers) {
		if strings.HasPrefix(n.Name(), ".") {
			continue
		}
		roots = append(roots, tree.Project(n.Name()))
	}
	return roots, nil
}

// IsSupervised reports whether node takes part in synchronization. An
// ignored node does only while it is an incoming addition: present remotely,
// absent locally and in the base.
func (s *Subscriber) IsSupervised(node tree.LocalNode) (bool, error) {
	if err := s.checkAlive(); err != nil {
		return false, err
	}
	if s.ignore == nil || !s.ignore.IsIgnored(node) {
		return true, nil
	}
	if s.tree.Exists(node) {
		return false, nil
	}

	hasRemote, err := s.remote.HasRemoteHandle(node)
	if err != nil {
		return false, err
	}
	hasBase, err := s.base.HasRemoteHandle(node)
	if err != nil {
		return false, err
	}
	return hasRemote && !hasBase, nil
}

// remoteFilter runs during the remote walk, handle is the remote handle.
func (s *Subscriber) remoteFilter(node tree.LocalNode, handle remote.Handle) bool {
	if s.ignore == nil || !s.ignore.IsIgnored(node) {
		return true
	}
	if handle == nil || s.tree.Exists(node) {
		return false
	}
	hasBase, err := s.base.HasRemoteHandle(node)
	if err != nil {
		slog.Warn("subscriber base lookup failed", "node", node, "error", err)
		return false
	}
	return !hasBase
}

// baseFilter runs during the base walk, after the remote walk. handle is the
// base handle.
func (s *Subscriber) baseFilter(node tree.LocalNode, handle remote.Handle) bool {
	if s.ignore == nil || !s.ignore.IsIgnored(node) {
		return true
	}
	if handle != nil || s.tree.Exists(node) {
		return false
	}
	hasRemote, err := s.remote.HasRemoteHandle(node)
	if err != nil {
		slog.Warn("subscriber remote lookup failed", "node", node, "error", err)
		return false
	}
	return hasRemote
}

// Members lists the supervised children of node found locally, in the base
// or in the remote cache.
func (s *Subscriber) Members(node tree.LocalNode) ([]tree.LocalNode, error) {
	if err := s.checkAlive(); err != nil {
		return nil, err
	}

	local, err := s.tree.Children(node)
	if err != nil {
		return nil, fmt.Errorf("list local children of %s: %w", node, err)
	}
	remoteMembers, err := s.remote.Members(node)
	if err != nil {
		return nil, err
	}
	baseMembers, err := s.base.Members(node)
	if err != nil {
		return nil, err
	}

	all := union(union(local, remoteMembers), baseMembers)
	members := all[:0]
	for _, child := range all {
		ok, err := s.IsSupervised(child)
		if err != nil {
			return nil, err
		}
		if ok {
			members = append(members, child)
		}
	}
	return members, nil
}

// RemoteHandle returns the cached remote handle of node, nil when the remote
// has none.
func (s *Subscriber) RemoteHandle(node tree.LocalNode) (remote.Handle, error) {
	if err := s.checkAlive(); err != nil {
		return nil, err
	}
	return s.remote.RemoteHandle(node)
}

func (s *Subscriber) BaseHandle(node tree.LocalNode) (remote.Handle, error) {
	if err := s.checkAlive(); err != nil {
		return nil, err
	}
	return s.base.RemoteHandle(node)
}

func (s *Subscriber) Criteria() *compare.Registry {
	return s.criteria
}

func (s *Subscriber) SelectCriteria(id string) error {
	return s.criteria.Select(id)
}

// AddListener registers l and returns the id to remove it with.
func (s *Subscriber) AddListener(l Listener) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.listeners[id] = l
	return id
}

func (s *Subscriber) RemoveListener(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listeners, id)
}

func (s *Subscriber) notify(ev ChangeEvent) {
	s.mu.Lock()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	slog.Debug("subscriber changes", "name", s.name, "batch", ev.BatchID, "nodes", len(ev.Nodes))
	for _, l := range listeners {
		l(s, ev)
	}
}

// Dispose releases the remote records. Base records persist for the next
// subscriber on the same backend.
func (s *Subscriber) Dispose() error {
	s.mu.Lock()
	if s.state == Disposed {
		s.mu.Unlock()
		return nil
	}
	s.state = Disposed
	s.listeners = make(map[uuid.UUID]Listener)
	s.mu.Unlock()

	if err := s.remote.Dispose(); err != nil {
		return fmt.Errorf("dispose remote cache: %w", err)
	}
	return nil
}
