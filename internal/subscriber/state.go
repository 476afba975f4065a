package subscriber

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/openmined/syftsync/internal/compare"
	"github.com/openmined/syftsync/internal/remote"
	"github.com/openmined/syftsync/internal/syncstate"
	"github.com/openmined/syftsync/internal/tree"
)

// localItem exposes a local file to the comparison criteria.
type localItem struct {
	tree tree.LocalTree
	node tree.LocalNode
}

func (i localItem) Open(context.Context) (io.ReadCloser, error) {
	return i.tree.Open(i.node)
}

// SyncState classifies node from the recorded base and remote handles and the
// current local file. Unsupervised nodes are reported in sync.
func (s *Subscriber) SyncState(ctx context.Context, node tree.LocalNode) (syncstate.State, error) {
	supervised, err := s.IsSupervised(node)
	if err != nil {
		return syncstate.Synced, err
	}
	if !supervised {
		return syncstate.Synced, nil
	}

	remoteMarker, err := s.remote.Marker(node)
	if err != nil {
		return syncstate.Synced, fmt.Errorf("read remote record of %s: %w", node, err)
	}
	baseMarker, err := s.base.Marker(node)
	if err != nil {
		return syncstate.Synced, fmt.Errorf("read base record of %s: %w", node, err)
	}

	in := syncstate.Input{
		LocalExists:  s.tree.Exists(node),
		RemoteExists: remoteMarker != nil,
		BaseExists:   baseMarker != nil,
		OutOfDate:    !remote.SameIdentity(remoteMarker, baseMarker),
	}
	in.Dirty, err = s.isDirty(ctx, node, in)
	if err != nil {
		return syncstate.Synced, err
	}

	state := syncstate.Classify(in)
	if !syncstate.NeedsContentCheck(in, state) || s.tree.IsContainer(node) {
		return state, nil
	}

	current := s.criteria.Current()
	if current == nil {
		return state, nil
	}
	remoteHandle, err := s.remote.RemoteHandle(node)
	if err != nil {
		return state, fmt.Errorf("read remote handle of %s: %w", node, err)
	}
	if s.sameContent(ctx, current, node, remoteHandle) {
		state = state.WithPseudoConflict()
	}
	return state, nil
}

// isDirty reports whether the local node differs from its base.
func (s *Subscriber) isDirty(ctx context.Context, node tree.LocalNode, in syncstate.Input) (bool, error) {
	if in.LocalExists != in.BaseExists {
		return true, nil
	}
	if !in.LocalExists {
		return false, nil
	}

	baseHandle, err := s.base.RemoteHandle(node)
	if err != nil {
		return false, fmt.Errorf("read base handle of %s: %w", node, err)
	}
	if baseHandle == nil {
		return true, nil
	}
	localDir := s.tree.IsContainer(node)
	if localDir != baseHandle.IsContainer() {
		return true, nil
	}
	if localDir {
		return false, nil
	}
	return !s.sameContent(ctx, s.dirtyCriteria, node, baseHandle), nil
}

// sameContent compares the local file with h. Failures count as different.
func (s *Subscriber) sameContent(ctx context.Context, c compare.Criteria, node tree.LocalNode, h remote.Handle) bool {
	item, ok := h.(compare.Item)
	if !ok {
		return false
	}
	equal, err := c.Compare(ctx, localItem{tree: s.tree, node: node}, item)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			slog.Warn("subscriber compare failed", "node", node, "criteria", c.ID(), "error", err)
		}
		return false
	}
	return equal
}
