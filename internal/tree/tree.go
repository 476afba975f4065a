package tree

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// LocalTree is the read-only view of the local file system the engine works against.
type LocalTree interface {
	Children(node LocalNode) ([]LocalNode, error)
	Exists(node LocalNode) bool
	IsContainer(node LocalNode) bool
	Open(node LocalNode) (io.ReadCloser, error)
}

// FSTree is a LocalTree over an afero file system rooted at a workspace directory.
type FSTree struct {
	fs   afero.Fs
	root string
}

// NewFSTree returns a tree reading the workspace found at root inside fsys.
func NewFSTree(fsys afero.Fs, root string) *FSTree {
	return &FSTree{fs: fsys, root: root}
}

// NewOSTree returns a tree over the real file system.
func NewOSTree(root string) *FSTree {
	return NewFSTree(afero.NewOsFs(), root)
}

func (t *FSTree) Root() string {
	return t.root
}

// AbsPath maps a node to its location in the underlying file system.
func (t *FSTree) AbsPath(node LocalNode) string {
	if node.IsRoot() {
		return t.root
	}
	return filepath.Join(t.root, filepath.FromSlash(node.Path))
}

// Node converts an absolute path below the root into a LocalNode.
func (t *FSTree) Node(abs string) (LocalNode, error) {
	rel, err := filepath.Rel(t.root, abs)
	if err != nil {
		return LocalNode{}, fmt.Errorf("rel path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return LocalNode{}, fmt.Errorf("path %s is outside of %s", abs, t.root)
	}
	node := LocalNode{Path: NormPath(filepath.ToSlash(rel))}
	node.Container = t.IsContainer(node)
	return node, nil
}

func (t *FSTree) Children(node LocalNode) ([]LocalNode, error) {
	if !t.IsContainer(node) {
		return nil, nil
	}

	entries, err := afero.ReadDir(t.fs, t.AbsPath(node))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", node, err)
	}

	children := make([]LocalNode, 0, len(entries))
	for _, entry := range entries {
		children = append(children, node.Child(entry.Name(), entry.IsDir()))
	}
	sort.Slice(children, func(i, j int) bool { return children[i].Path < children[j].Path })
	return children, nil
}

func (t *FSTree) Exists(node LocalNode) bool {
	_, err := t.fs.Stat(t.AbsPath(node))
	return err == nil
}

func (t *FSTree) IsContainer(node LocalNode) bool {
	info, err := t.fs.Stat(t.AbsPath(node))
	if err != nil {
		return false
	}
	return info.IsDir()
}

func (t *FSTree) Open(node LocalNode) (io.ReadCloser, error) {
	return t.fs.Open(t.AbsPath(node))
}
