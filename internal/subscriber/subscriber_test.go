package subscriber

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/openmined/syftsync/internal/compare"
	"github.com/openmined/syftsync/internal/ignore"
	"github.com/openmined/syftsync/internal/remote/dirremote"
	"github.com/openmined/syftsync/internal/remote/s3remote"
	"github.com/openmined/syftsync/internal/remote/s3remote/s3test"
	"github.com/openmined/syftsync/internal/syncstate"
	"github.com/openmined/syftsync/internal/syncstore"
	"github.com/openmined/syftsync/internal/tree"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	localRoot  = "/ws"
	remoteRoot = "/remote"
	baseRoot   = "/base"
)

type env struct {
	fs      afero.Fs
	backend *syncstore.MemoryBackend
	ignore  *ignore.Registry
	sub     *Subscriber
	events  []ChangeEvent
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{fs: afero.NewMemMapFs(), backend: syncstore.NewMemoryBackend()}
	for _, root := range []string{localRoot, remoteRoot, baseRoot} {
		require.NoError(t, e.fs.MkdirAll(filepath.Join(root, "proj"), 0o755))
	}
	e.ignore = ignore.NewRegistry(e.fs, localRoot, "/state/ignore.bin")
	e.sub = e.newSubscriber(t)
	e.sub.AddListener(func(_ *Subscriber, ev ChangeEvent) {
		e.events = append(e.events, ev)
	})
	return e
}

func (e *env) newSubscriber(t *testing.T) *Subscriber {
	t.Helper()
	sub, err := New(Options{
		Tree:    tree.NewFSTree(e.fs, localRoot),
		Remote:  dirremote.New(e.fs, remoteRoot),
		Base:    dirremote.New(e.fs, baseRoot),
		Backend: e.backend,
		Ignore:  e.ignore,
	})
	require.NoError(t, err)
	return sub
}

func (e *env) write(t *testing.T, root, p, content string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(e.fs, filepath.Join(root, filepath.FromSlash(p)), []byte(content), 0o644))
}

func (e *env) writeAll(t *testing.T, p, content string) {
	t.Helper()
	for _, root := range []string{localRoot, remoteRoot, baseRoot} {
		e.write(t, root, p, content)
	}
}

func (e *env) remove(t *testing.T, root, p string) {
	t.Helper()
	require.NoError(t, e.fs.Remove(filepath.Join(root, filepath.FromSlash(p))))
}

func (e *env) refresh(t *testing.T) []tree.LocalNode {
	t.Helper()
	changed, err := e.sub.Refresh(testContext(t), []tree.LocalNode{tree.Project("proj")}, tree.Infinite)
	require.NoError(t, err)
	return changed
}

func (e *env) state(t *testing.T, p string) string {
	t.Helper()
	st, err := e.sub.SyncState(testContext(t), tree.File(p))
	require.NoError(t, err)
	return st.String()
}

func paths(nodes []tree.LocalNode) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Path)
	}
	return out
}

func TestSubscriber_IncomingAdditionScenario(t *testing.T) {
	e := newEnv(t)
	e.writeAll(t, "proj/a.txt", "a")
	e.writeAll(t, "proj/b.txt", "b")
	e.write(t, localRoot, "proj/b.txt", "b locally edited")
	e.refresh(t)
	e.events = nil

	e.write(t, remoteRoot, "proj/c.txt", "c")
	changed := e.refresh(t)

	assert.Equal(t, []string{"proj/c.txt"}, paths(changed))
	require.Len(t, e.events, 1)
	assert.Equal(t, []string{"proj/c.txt"}, paths(e.events[0].Nodes))
	assert.NotEqual(t, [16]byte{}, [16]byte(e.events[0].BatchID))

	assert.Equal(t, "IN_SYNC", e.state(t, "proj/a.txt"))
	assert.Equal(t, "OUTGOING|CHANGE", e.state(t, "proj/b.txt"))
	assert.Equal(t, "INCOMING|ADDITION", e.state(t, "proj/c.txt"))
}

func TestSubscriber_BucketRemoteWithDirectoryBase(t *testing.T) {
	fs := afero.NewMemMapFs()
	for _, root := range []string{localRoot, baseRoot} {
		require.NoError(t, fs.MkdirAll(filepath.Join(root, "proj"), 0o755))
	}
	bucket := s3test.NewBucket(nil)
	bucket.Versioned = true

	put := func(p, content string) {
		for _, root := range []string{localRoot, baseRoot} {
			require.NoError(t, afero.WriteFile(fs, filepath.Join(root, filepath.FromSlash(p)), []byte(content), 0o644))
		}
		bucket.Put(p, content)
	}
	put("proj/a.txt", "a")
	put("proj/b.txt", "b")
	put("proj/d.txt", "d")

	sub, err := New(Options{
		Tree:    tree.NewFSTree(fs, localRoot),
		Remote:  s3remote.New(bucket, "bucket", ""),
		Base:    dirremote.New(fs, baseRoot),
		Backend: syncstore.NewMemoryBackend(),
	})
	require.NoError(t, err)

	refresh := func(node tree.LocalNode, depth tree.Depth) []tree.LocalNode {
		changed, err := sub.Refresh(testContext(t), []tree.LocalNode{node}, depth)
		require.NoError(t, err)
		return changed
	}
	state := func(p string) string {
		st, err := sub.SyncState(testContext(t), tree.File(p))
		require.NoError(t, err)
		return st.String()
	}

	refresh(tree.Project("proj"), tree.Infinite)
	for _, p := range []string{"proj/a.txt", "proj/b.txt", "proj/d.txt"} {
		assert.Equal(t, "IN_SYNC", state(p), p)
	}

	// matching objects are not recorded twice
	known, err := sub.remoteStore.Remote().IsRemoteKnown(tree.File("proj/a.txt"))
	require.NoError(t, err)
	assert.False(t, known)

	// a file refresh reads HEAD, the project refresh read the listing
	assert.Empty(t, refresh(tree.File("proj/a.txt"), tree.Zero))
	assert.Empty(t, refresh(tree.Project("proj"), tree.Infinite))

	bucket.Put("proj/b.txt", "b changed remotely")
	bucket.Delete("proj/d.txt")
	changed := refresh(tree.Project("proj"), tree.Infinite)
	assert.Equal(t, []string{"proj/b.txt", "proj/d.txt"}, paths(changed))

	assert.Equal(t, "IN_SYNC", state("proj/a.txt"))
	assert.Equal(t, "INCOMING|CHANGE", state("proj/b.txt"))
	assert.Equal(t, "INCOMING|DELETION", state("proj/d.txt"))

	assert.Empty(t, refresh(tree.File("proj/b.txt"), tree.Zero))
}

func TestSubscriber_IncomingDeletionScenario(t *testing.T) {
	e := newEnv(t)
	e.writeAll(t, "proj/d.txt", "d")
	e.refresh(t)

	e.remove(t, remoteRoot, "proj/d.txt")
	changed := e.refresh(t)
	assert.Equal(t, []string{"proj/d.txt"}, paths(changed))
	assert.Equal(t, "INCOMING|DELETION", e.state(t, "proj/d.txt"))

	// the deletion is accepted locally and in the base snapshot
	e.remove(t, localRoot, "proj/d.txt")
	e.remove(t, baseRoot, "proj/d.txt")
	changed = e.refresh(t)
	assert.Equal(t, []string{"proj/d.txt"}, paths(changed))

	for _, c := range []interface {
		HasRemoteHandle(tree.LocalNode) (bool, error)
	}{e.sub.remote, e.sub.base} {
		has, err := c.HasRemoteHandle(tree.File("proj/d.txt"))
		require.NoError(t, err)
		assert.False(t, has)
	}
	assert.Equal(t, "IN_SYNC", e.state(t, "proj/d.txt"))

	// the pin on the remote side goes once the base forgot the node
	e.refresh(t)
	known, err := e.sub.remoteStore.Remote().IsRemoteKnown(tree.File("proj/d.txt"))
	require.NoError(t, err)
	assert.False(t, known)
}

func TestSubscriber_OutgoingAndConflicts(t *testing.T) {
	e := newEnv(t)
	e.writeAll(t, "proj/new-remote.txt", "x")
	e.writeAll(t, "proj/both.txt", "old")
	e.writeAll(t, "proj/same.txt", "old")
	e.writeAll(t, "proj/gone.txt", "g")
	e.write(t, localRoot, "proj/local-only.txt", "l")
	e.refresh(t)

	e.write(t, localRoot, "proj/both.txt", "mine")
	e.write(t, remoteRoot, "proj/both.txt", "theirs")
	e.write(t, localRoot, "proj/same.txt", "new")
	e.write(t, remoteRoot, "proj/same.txt", "new")
	e.write(t, remoteRoot, "proj/new-remote.txt", "y")
	e.remove(t, localRoot, "proj/gone.txt")
	e.refresh(t)

	assert.Equal(t, "CONFLICTING|CHANGE", e.state(t, "proj/both.txt"))
	assert.Equal(t, "CONFLICTING|CHANGE+PSEUDO", e.state(t, "proj/same.txt"))
	assert.Equal(t, "INCOMING|CHANGE", e.state(t, "proj/new-remote.txt"))
	assert.Equal(t, "OUTGOING|DELETION", e.state(t, "proj/gone.txt"))
	assert.Equal(t, "OUTGOING|ADDITION", e.state(t, "proj/local-only.txt"))

	st, err := e.sub.SyncState(testContext(t), tree.File("proj/same.txt"))
	require.NoError(t, err)
	assert.Equal(t, syncstate.Conflicting, st.Direction)
	assert.Equal(t, syncstate.Change, st.Kind)

	// revision criteria cannot see local content, so no pseudo conflict
	require.NoError(t, e.sub.SelectCriteria("revision"))
	assert.Equal(t, "CONFLICTING|CHANGE", e.state(t, "proj/same.txt"))
}

func TestSubscriber_SelectUnknownCriteria(t *testing.T) {
	e := newEnv(t)
	err := e.sub.SelectCriteria("bogus")
	assert.ErrorIs(t, err, compare.ErrUnknownCriteria)
	assert.Equal(t, "content", e.sub.Criteria().Current().ID())
}

func TestSubscriber_Supervision(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.ignore.Add("*.log"))
	e.writeAll(t, "proj/a.txt", "a")
	e.write(t, localRoot, "proj/local.log", "l")
	e.writeAll(t, "proj/known.log", "k")
	e.write(t, remoteRoot, "proj/incoming.log", "i")
	e.refresh(t)

	for p, want := range map[string]bool{
		"proj/a.txt":        true,
		"proj/local.log":    false,
		"proj/known.log":    false,
		"proj/incoming.log": true,
	} {
		ok, err := e.sub.IsSupervised(tree.File(p))
		require.NoError(t, err)
		assert.Equal(t, want, ok, p)
	}

	assert.Equal(t, "INCOMING|ADDITION", e.state(t, "proj/incoming.log"))
	assert.Equal(t, "IN_SYNC", e.state(t, "proj/local.log"))

	members, err := e.sub.Members(tree.Project("proj"))
	require.NoError(t, err)
	assert.Equal(t, []string{"proj/a.txt", "proj/incoming.log"}, paths(members))
}

func TestSubscriber_Roots(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.fs.MkdirAll(filepath.Join(localRoot, ".data"), 0o755))
	e.write(t, remoteRoot, "remote-only/x.txt", "x")

	// the remote-only project becomes a root once it is known
	_, err := e.sub.Refresh(testContext(t), []tree.LocalNode{tree.Project("remote-only")}, tree.Zero)
	require.NoError(t, err)

	roots, err := e.sub.Roots()
	require.NoError(t, err)
	assert.Equal(t, []string{"proj", "remote-only"}, paths(roots))

	changed, err := e.sub.Refresh(testContext(t), nil, tree.Infinite)
	require.NoError(t, err)
	assert.Contains(t, paths(changed), "remote-only/x.txt")
}

func TestSubscriber_ListenerRemoval(t *testing.T) {
	e := newEnv(t)
	calls := 0
	id := e.sub.AddListener(func(*Subscriber, ChangeEvent) { calls++ })

	e.writeAll(t, "proj/a.txt", "a")
	e.refresh(t)
	assert.Equal(t, 1, calls)

	e.sub.RemoveListener(id)
	e.write(t, remoteRoot, "proj/b.txt", "b")
	e.refresh(t)
	assert.Equal(t, 1, calls)

	// no event when nothing changed
	e.events = nil
	e.refresh(t)
	assert.Empty(t, e.events)
}

func TestSubscriber_Lifecycle(t *testing.T) {
	e := newEnv(t)
	assert.Equal(t, Ready, e.sub.State())

	var during LifecycleState
	e.sub.AddListener(func(s *Subscriber, _ ChangeEvent) { during = s.State() })
	e.writeAll(t, "proj/a.txt", "a")
	e.refresh(t)
	assert.Equal(t, Refreshing, during)
	assert.Equal(t, Ready, e.sub.State())

	require.NoError(t, e.sub.Dispose())
	require.NoError(t, e.sub.Dispose())
	assert.Equal(t, Disposed, e.sub.State())
	assert.Equal(t, "disposed", e.sub.State().String())

	_, err := e.sub.Refresh(testContext(t), nil, tree.Infinite)
	assert.ErrorIs(t, err, ErrDisposed)
	_, err = e.sub.SyncState(testContext(t), tree.File("proj/a.txt"))
	assert.ErrorIs(t, err, ErrDisposed)

	// base records outlive the subscriber
	base := syncstore.NewRecordStore(e.backend, "syftsync.base")
	m, err := base.Get(tree.File("proj/a.txt"))
	require.NoError(t, err)
	assert.NotNil(t, m)

	next := e.newSubscriber(t)
	has, err := next.base.HasRemoteHandle(tree.File("proj/a.txt"))
	require.NoError(t, err)
	assert.True(t, has)
	has, err = next.remote.HasRemoteHandle(tree.File("proj/a.txt"))
	require.NoError(t, err)
	assert.True(t, has, "falls back to the base record")
}

func TestSubscriber_RefreshCancelled(t *testing.T) {
	e := newEnv(t)
	e.writeAll(t, "proj/a.txt", "a")

	ctx, cancel := context.WithCancel(testContext(t))
	cancel()
	_, err := e.sub.Refresh(ctx, []tree.LocalNode{tree.Project("proj")}, tree.Infinite)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, e.events)
}

func TestNew_MissingOptions(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorIs(t, err, ErrMissingOption)
}

func TestSubscriber_Handles(t *testing.T) {
	e := newEnv(t)
	e.writeAll(t, "proj/a.txt", "a")
	e.write(t, remoteRoot, "proj/new.txt", "n")
	e.refresh(t)

	h, err := e.sub.RemoteHandle(tree.File("proj/new.txt"))
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, "new.txt", h.Name())

	h, err = e.sub.BaseHandle(tree.File("proj/new.txt"))
	require.NoError(t, err)
	assert.Nil(t, h)

	h, err = e.sub.BaseHandle(tree.File("proj/a.txt"))
	require.NoError(t, err)
	require.NotNil(t, h)

	require.NoError(t, e.sub.Dispose())
	_, err = e.sub.RemoteHandle(tree.File("proj/a.txt"))
	assert.ErrorIs(t, err, ErrDisposed)
}
