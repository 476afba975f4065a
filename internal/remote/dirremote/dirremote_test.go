package dirremote

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/openmined/syftsync/internal/remote"
	"github.com/openmined/syftsync/internal/tree"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepo(t *testing.T, files map[string]string) (*Repository, afero.Fs) {
	t.Helper()
	fsys := afero.NewMemMapFs()
	for p, content := range files {
		require.NoError(t, afero.WriteFile(fsys, filepath.Join("/remote", p), []byte(content), 0o644))
	}
	return New(fsys, "/remote"), fsys
}

func TestRepository_FetchTreeAndMembers(t *testing.T) {
	repo, _ := newRepo(t, map[string]string{
		"proj/a.txt":     "a",
		"proj/sub/b.txt": "b",
	})
	ctx := testContext(t)

	h, err := repo.FetchTree(ctx, tree.Project("proj"), tree.Infinite)
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.True(t, h.IsContainer())
	assert.Equal(t, "proj", h.Name())

	members, err := h.Members(ctx)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "a.txt", members[0].Name())
	assert.False(t, members[0].IsContainer())
	assert.Equal(t, "sub", members[1].Name())
	assert.True(t, members[1].IsContainer())

	missing, err := repo.FetchTree(ctx, tree.File("proj/none.txt"), tree.Zero)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRepository_MarkerRoundTrip(t *testing.T) {
	repo, _ := newRepo(t, map[string]string{"proj/a.txt": "hello"})
	ctx := testContext(t)
	node := tree.File("proj/a.txt")

	h, err := repo.FetchTree(ctx, node, tree.Zero)
	require.NoError(t, err)

	m, err := repo.ToBytes(h)
	require.NoError(t, err)

	decoded, err := repo.FromBytes(node, m)
	require.NoError(t, err)
	assert.Equal(t, "a.txt", decoded.Name())
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", decoded.(remote.Revisioned).Revision())

	again, err := repo.ToBytes(decoded)
	require.NoError(t, err)
	assert.Equal(t, m, again)

	rc, err := decoded.(remote.Opener).Open(ctx)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestRepository_EqualContentEqualMarkers(t *testing.T) {
	one, _ := newRepo(t, map[string]string{"proj/a.txt": "same"})
	two, _ := newRepo(t, map[string]string{"proj/a.txt": "same"})
	node := tree.File("proj/a.txt")

	h1, err := one.FetchTree(testContext(t), node, tree.Zero)
	require.NoError(t, err)
	h2, err := two.FetchTree(testContext(t), node, tree.Zero)
	require.NoError(t, err)

	m1, err := one.ToBytes(h1)
	require.NoError(t, err)
	m2, err := two.ToBytes(h2)
	require.NoError(t, err)
	assert.True(t, m1.Equal(m2))
}

func TestRepository_CancelledContext(t *testing.T) {
	repo, _ := newRepo(t, map[string]string{"proj/a.txt": "a"})

	ctx, cancel := context.WithCancel(testContext(t))
	cancel()
	_, err := repo.FetchTree(ctx, tree.Project("proj"), tree.One)
	assert.ErrorIs(t, err, context.Canceled)
}
