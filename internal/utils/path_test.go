package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	wd, err := os.Getwd()
	require.NoError(t, err)

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "empty path", input: "", wantErr: true},
		{name: "home", input: "~/SyftSync", want: filepath.Join(home, "SyftSync")},
		{name: "relative path", input: "./test/../ws", want: filepath.Join(wd, "ws")},
		{name: "absolute path", input: "/tmp/x/", want: filepath.Clean("/tmp/x")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolvePath(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEnsureParentAndFileExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "file.txt")

	require.NoError(t, EnsureParent(path))
	assert.DirExists(t, filepath.Dir(path))
	assert.False(t, FileExists(path))

	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	assert.True(t, FileExists(path))
	assert.False(t, FileExists(filepath.Dir(path)))

	// idempotent
	require.NoError(t, EnsureDir(filepath.Dir(path)))
}
