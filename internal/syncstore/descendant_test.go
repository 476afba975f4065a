package syncstore

import (
	"bytes"
	"testing"

	"github.com/openmined/syftsync/internal/tree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// revisions are single digits; a higher digit descends from a lower one
func newerRevision(_ tree.LocalNode, base, remote Marker) bool {
	return bytes.Compare(remote, base) >= 0
}

func newDescendant(backend Backend) (*DescendantStore, *RecordStore, *RecordStore) {
	base := NewRecordStore(backend, "base")
	remote := NewRecordStore(backend, "remote")
	return NewDescendantStore(base, remote, newerRevision), base, remote
}

func TestDescendantStore_CompressionRoundTrip(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s, base, remote := newDescendant(backend)
			n := tree.File("proj/a.txt")
			_, err := base.Set(n, Marker("1"))
			require.NoError(t, err)

			for _, m := range []Marker{Marker("2"), Marker("1"), Marker("3"), Marker("1")} {
				_, err := s.Set(n, m)
				require.NoError(t, err)

				got, err := s.Get(n)
				require.NoError(t, err)
				assert.Equal(t, m, got)
			}

			// equal to base, so nothing is physically stored
			known, err := remote.IsRemoteKnown(n)
			require.NoError(t, err)
			assert.False(t, known)
		})
	}
}

func TestDescendantStore_MarkerEqual(t *testing.T) {
	base := NewRecordStore(NewMemoryBackend(), "base")
	remote := NewRecordStore(NewMemoryBackend(), "remote")
	// only the first byte identifies the content
	sameDigit := func(a, b Marker) bool { return a[0] == b[0] }
	s := NewDescendantStore(base, remote, newerRevision, WithMarkerEqual(sameDigit))

	n := tree.File("proj/a.txt")
	_, err := base.Set(n, Marker("1a"))
	require.NoError(t, err)

	changed, err := s.Set(n, Marker("1b"))
	require.NoError(t, err)
	assert.False(t, changed)
	known, err := remote.IsRemoteKnown(n)
	require.NoError(t, err)
	assert.False(t, known, "same identity is elided")

	got, err := s.Get(n)
	require.NoError(t, err)
	assert.Equal(t, Marker("1a"), got)

	changed, err = s.Set(n, Marker("2b"))
	require.NoError(t, err)
	assert.True(t, changed)
	got, err = s.Get(n)
	require.NoError(t, err)
	assert.Equal(t, Marker("2b"), got)
}

func TestDescendantStore_FallbackAndKnownAbsent(t *testing.T) {
	s, base, _ := newDescendant(NewMemoryBackend())
	n := tree.File("proj/a.txt")
	_, err := base.Set(n, Marker("1"))
	require.NoError(t, err)

	got, err := s.Get(n)
	require.NoError(t, err)
	assert.Equal(t, Marker("1"), got, "never queried falls back to base")

	_, err = s.SetAbsent(n)
	require.NoError(t, err)
	got, err = s.Get(n)
	require.NoError(t, err)
	assert.Nil(t, got, "known-absent does not fall back")
}

func TestDescendantStore_NoBaseReturnsRemote(t *testing.T) {
	s, _, _ := newDescendant(NewMemoryBackend())
	n := tree.File("proj/new.txt")

	got, err := s.Get(n)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = s.Set(n, Marker("1"))
	require.NoError(t, err)
	got, err = s.Get(n)
	require.NoError(t, err)
	assert.Equal(t, Marker("1"), got)
}

func TestDescendantStore_StaleRemoteYieldsBase(t *testing.T) {
	s, base, _ := newDescendant(NewMemoryBackend())
	n := tree.File("proj/a.txt")

	_, err := s.Set(n, Marker("2"))
	require.NoError(t, err)
	// base moves past the recorded remote, e.g. after a commit
	_, err = base.Set(n, Marker("5"))
	require.NoError(t, err)

	got, err := s.Get(n)
	require.NoError(t, err)
	assert.Equal(t, Marker("5"), got)
}

func TestDescendantStore_PurgePinsBaseKnownNodes(t *testing.T) {
	s, base, remote := newDescendant(NewMemoryBackend())
	dir := tree.Dir("proj/dir")
	baseOnly := tree.File("proj/dir/base.txt")
	remoteOnly := tree.File("proj/dir/remote.txt")

	_, err := base.Set(dir, Marker("d"))
	require.NoError(t, err)
	_, err = base.Set(baseOnly, Marker("1"))
	require.NoError(t, err)
	_, err = s.Set(remoteOnly, Marker("1"))
	require.NoError(t, err)

	changed, err := s.Purge(dir)
	require.NoError(t, err)
	assert.True(t, changed)

	for _, n := range []tree.LocalNode{dir, baseOnly, remoteOnly} {
		got, err := s.Get(n)
		require.NoError(t, err)
		assert.Nil(t, got, n.Path)
	}

	changed, err = s.Purge(dir)
	require.NoError(t, err)
	assert.False(t, changed, "purge is idempotent")

	known, err := remote.IsRemoteKnown(remoteOnly)
	require.NoError(t, err)
	assert.False(t, known)
}

func TestDescendantStore_MembersUnion(t *testing.T) {
	s, base, _ := newDescendant(NewMemoryBackend())
	p := tree.Project("proj")
	a := tree.File("proj/a.txt")
	b := tree.File("proj/b.txt")
	c := tree.File("proj/c.txt")

	_, err := base.Set(a, Marker("1"))
	require.NoError(t, err)
	_, err = base.Set(b, Marker("1"))
	require.NoError(t, err)
	_, err = s.Set(c, Marker("1"))
	require.NoError(t, err)
	_, err = s.SetAbsent(b)
	require.NoError(t, err)

	members, err := s.Members(p)
	require.NoError(t, err)
	assert.Equal(t, []tree.LocalNode{a, c}, members)

	recorded, err := s.Recorded(p)
	require.NoError(t, err)
	assert.Equal(t, []tree.LocalNode{a, b, c}, recorded)
}

func TestDescendantStore_DisposeKeepsBase(t *testing.T) {
	s, base, _ := newDescendant(NewMemoryBackend())
	n := tree.File("proj/a.txt")
	_, err := base.Set(n, Marker("1"))
	require.NoError(t, err)

	require.NoError(t, s.Dispose())

	got, err := base.Get(n)
	require.NoError(t, err)
	assert.Equal(t, Marker("1"), got)
}
