// Package refresh walks a local tree side by side with a remote handle tree
// and records the remote state of every visited node in a sync store.
package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/openmined/syftsync/internal/remote"
	"github.com/openmined/syftsync/internal/syncstore"
	"github.com/openmined/syftsync/internal/tree"
)

// Filter decides whether a child takes part in a walk. handle is the remote
// counterpart of node, nil when there is none.
type Filter func(node tree.LocalNode, handle remote.Handle) bool

type Walker struct {
	Tree       tree.LocalTree
	Store      syncstore.Store
	Serializer remote.Serializer
	// Filter is optional. Children it rejects are neither recorded nor
	// descended into, and their old records are purged.
	Filter Filter
}

// Collect runs a single pass rooted at node. See Pass.Collect.
func (w *Walker) Collect(ctx context.Context, node tree.LocalNode, handle remote.Handle, depth tree.Depth) ([]tree.LocalNode, error) {
	pass := w.NewPass()
	err := pass.Collect(ctx, node, handle, depth)
	return pass.Changed(), err
}

// NewPass starts a pass. Remote members fetched during a pass are reused by
// every Collect of that pass and dropped with it.
func (w *Walker) NewPass() *Pass {
	return &Pass{
		walker:  w,
		changed: mapset.NewThreadUnsafeSet[tree.LocalNode](),
		members: make(map[string]map[string]remote.Handle),
	}
}

// Pass is not safe for concurrent use.
type Pass struct {
	walker  *Walker
	changed mapset.Set[tree.LocalNode]
	members map[string]map[string]remote.Handle
}

// Changed returns the nodes whose recorded state changed so far, ordered by path.
func (p *Pass) Changed() []tree.LocalNode {
	nodes := p.changed.ToSlice()
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Path < nodes[j].Path })
	return nodes
}

// Collect records handle (nil when node has no remote counterpart) for node,
// then merges local and remote children by name down to depth. Records of
// children present on neither side are purged. Effects already written are
// kept when the pass fails or is cancelled.
func (p *Pass) Collect(ctx context.Context, node tree.LocalNode, handle remote.Handle, depth tree.Depth) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("refresh %s: %w", node, err)
	}

	if err := p.record(node, handle); err != nil {
		return err
	}
	if depth == tree.Zero {
		return nil
	}

	remoteChildren, err := p.remoteMembers(ctx, node, handle)
	if err != nil {
		return err
	}
	localChildren, err := p.walker.Tree.Children(node)
	if err != nil {
		return fmt.Errorf("list local children of %s: %w", node, err)
	}

	union := make(map[string]tree.LocalNode, len(localChildren)+len(remoteChildren))
	for _, child := range localChildren {
		union[child.Name()] = child
	}
	for name, rh := range remoteChildren {
		if _, ok := union[name]; ok {
			continue
		}
		if !node.Container {
			slog.Warn("refresh skip remote child of local file", "node", node, "name", name)
			continue
		}
		// not present locally, visit it anyway so its remote state is recorded
		union[name] = node.Child(name, rh.IsContainer())
	}

	names := make([]string, 0, len(union))
	for name, child := range union {
		if p.walker.Filter != nil && !p.walker.Filter(child, remoteChildren[name]) {
			delete(union, name)
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("refresh %s: %w", node, err)
		}
		if err := p.Collect(ctx, union[name], remoteChildren[name], depth.Next()); err != nil {
			return err
		}
	}

	return p.cleanup(node, union)
}

func (p *Pass) record(node tree.LocalNode, handle remote.Handle) error {
	store := p.walker.Store

	old, err := store.Get(node)
	if err != nil {
		return fmt.Errorf("read record of %s: %w", node, err)
	}

	if handle == nil {
		if _, err := store.SetAbsent(node); err != nil {
			return fmt.Errorf("record %s absent: %w", node, err)
		}
		if old != nil {
			p.changed.Add(node)
		}
		return nil
	}

	marker, err := p.walker.Serializer.ToBytes(handle)
	if err != nil {
		return remote.Transport("serialize", node, err)
	}
	if _, err := store.Set(node, marker); err != nil {
		return fmt.Errorf("record %s: %w", node, err)
	}
	// a descendant store may elide marker in favour of an equivalent base marker
	current, err := store.Get(node)
	if err != nil {
		return fmt.Errorf("read record of %s: %w", node, err)
	}
	if !old.Equal(current) {
		p.changed.Add(node)
	}
	return nil
}

func (p *Pass) remoteMembers(ctx context.Context, node tree.LocalNode, handle remote.Handle) (map[string]remote.Handle, error) {
	if handle == nil || !handle.IsContainer() {
		return nil, nil
	}
	if cached, ok := p.members[node.Path]; ok {
		return cached, nil
	}

	members, err := handle.Members(ctx)
	if err != nil {
		return nil, remote.Transport("members", node, err)
	}
	byName := make(map[string]remote.Handle, len(members))
	for _, m := range members {
		byName[m.Name()] = m
	}
	p.members[node.Path] = byName
	return byName, nil
}

// cleanup purges recorded children of node missing from the merged union.
func (p *Pass) cleanup(node tree.LocalNode, union map[string]tree.LocalNode) error {
	store := p.walker.Store

	recorded, err := store.Recorded(node)
	if err != nil {
		return fmt.Errorf("list records under %s: %w", node, err)
	}
	for _, child := range recorded {
		if _, ok := union[child.Name()]; ok {
			continue
		}
		old, err := store.Get(child)
		if err != nil {
			return fmt.Errorf("read record of %s: %w", child, err)
		}
		purged, err := store.Purge(child)
		if err != nil {
			return fmt.Errorf("purge %s: %w", child, err)
		}
		if purged && old != nil {
			slog.Debug("refresh purged stale record", "node", child)
			p.changed.Add(child)
		}
	}
	return nil
}
