package ignore

import (
	"testing"

	"github.com/openmined/syftsync/internal/tree"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T) (*Registry, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/ws/proj", 0o755))
	return NewRegistry(fs, "/ws", "/ws/.data/ignore.bin"), fs
}

func TestRegistry_Defaults(t *testing.T) {
	r, _ := newRegistry(t)

	assert.True(t, r.IsIgnored(tree.File("proj/.DS_Store")))
	assert.True(t, r.IsIgnored(tree.File("proj/.git/config")))
	assert.True(t, r.IsIgnored(tree.File("proj/__pycache__/mod.pyc")))
	assert.True(t, r.IsIgnored(tree.File("proj/a.txt.syncconflict")))
	assert.False(t, r.IsIgnored(tree.File("proj/a.txt")))
	assert.False(t, r.IsIgnored(tree.Project("proj")))
	assert.False(t, r.IsIgnored(tree.Root))
}

func TestRegistry_ProjectIgnoreFile(t *testing.T) {
	r, fs := newRegistry(t)
	require.NoError(t, afero.WriteFile(fs, "/ws/proj/.syncignore", []byte("# comment\n*.bak\nprivate/\n"), 0o644))

	assert.True(t, r.IsIgnored(tree.File("proj/a.bak")))
	assert.True(t, r.IsIgnored(tree.Dir("proj/private")))
	assert.True(t, r.IsIgnored(tree.File("proj/private/secret.txt")))
	assert.False(t, r.IsIgnored(tree.File("proj/public/a.txt")))

	// other projects have their own file
	assert.False(t, r.IsIgnored(tree.File("other/a.bak")))

	require.NoError(t, afero.WriteFile(fs, "/ws/proj/.syncignore", []byte("*.txt\n"), 0o644))
	assert.False(t, r.IsIgnored(tree.File("proj/public/a.txt")), "cached until reload")
	r.Reload()
	assert.True(t, r.IsIgnored(tree.File("proj/public/a.txt")))
}

func TestRegistry_GlobalPatterns(t *testing.T) {
	r, _ := newRegistry(t)

	require.NoError(t, r.Add("*.out"))
	require.NoError(t, r.Add("build/"))
	require.NoError(t, r.Add("docs/**/draft-*"))

	assert.True(t, r.IsIgnored(tree.File("proj/x/run.out")))
	assert.True(t, r.IsIgnored(tree.File("proj/build/bin")))
	assert.False(t, r.IsIgnored(tree.File("proj/build")), "trailing slash only matches folders")
	assert.True(t, r.IsIgnored(tree.File("proj/docs/a/b/draft-1.md")))
	assert.False(t, r.IsIgnored(tree.File("proj/docs/final.md")))

	require.NoError(t, r.SetEnabled("*.out", false))
	assert.False(t, r.IsIgnored(tree.File("proj/x/run.out")))
	require.NoError(t, r.Add("*.out"))
	assert.True(t, r.IsIgnored(tree.File("proj/x/run.out")), "add re-enables")

	assert.True(t, r.Remove("*.out"))
	assert.False(t, r.Remove("*.out"))
	assert.ErrorIs(t, r.SetEnabled("*.out", true), ErrUnknownPattern)

	assert.ErrorIs(t, r.Add("[unterminated"), ErrInvalidPattern)
	assert.ErrorIs(t, r.Add("  "), ErrInvalidPattern)
}

func TestRegistry_Contribute(t *testing.T) {
	r, _ := newRegistry(t)

	require.NoError(t, r.Contribute("org.example.cache", "*.cache"))
	assert.True(t, r.IsIgnored(tree.File("proj/x.cache")))
	assert.Equal(t, []string{"org.example.cache"}, r.Extensions())
	assert.Empty(t, r.Patterns(), "contributions are not global patterns")

	require.NoError(t, r.Contribute("org.example.cache"))
	assert.False(t, r.IsIgnored(tree.File("proj/x.cache")))
	assert.Empty(t, r.Extensions())
}

func TestRegistry_SaveLoad(t *testing.T) {
	r, fs := newRegistry(t)
	require.NoError(t, r.Add("*.out"))
	require.NoError(t, r.Add("naïve/*.txt"))
	require.NoError(t, r.SetEnabled("*.out", false))
	require.NoError(t, r.Save())

	loaded := NewRegistry(fs, "/ws", "/ws/.data/ignore.bin")
	require.NoError(t, loaded.Load())
	assert.Equal(t, []Pattern{
		{Pattern: "*.out", Enabled: false},
		{Pattern: "naïve/*.txt", Enabled: true},
	}, loaded.Patterns())
}

func TestRegistry_LoadMissingState(t *testing.T) {
	r, _ := newRegistry(t)
	require.NoError(t, r.Load())
	assert.Empty(t, r.Patterns())
}

func TestStateEncoding(t *testing.T) {
	data, err := encodePatterns([]Pattern{{Pattern: "ab", Enabled: true}})
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 1, 0, 2, 'a', 'b', 1}, data)

	_, err = decodePatterns([]byte{0, 0, 0, 5, 0})
	assert.Error(t, err)

	_, err = decodePatterns([]byte{0, 0, 0, 1, 0, 9, 'a', 'b', 1})
	assert.Error(t, err)

	empty, err := decodePatterns([]byte{0, 0, 0, 0})
	require.NoError(t, err)
	assert.Empty(t, empty)
}
