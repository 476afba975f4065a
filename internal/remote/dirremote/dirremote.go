// Package dirremote serves a directory as a repository. It backs base
// snapshots and plain directory mirrors.
package dirremote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/openmined/syftsync/internal/remote"
	"github.com/openmined/syftsync/internal/syncstore"
	"github.com/openmined/syftsync/internal/tree"
	"github.com/openmined/syftsync/internal/utils"
	"github.com/spf13/afero"
)

// Repository maps the workspace layout onto a directory of fsys: node
// "proj/a.txt" lives at root/proj/a.txt.
type Repository struct {
	fs   afero.Fs
	root string
}

func New(fsys afero.Fs, root string) *Repository {
	return &Repository{fs: fsys, root: root}
}

// NewOS serves a directory of the real file system.
func NewOS(root string) *Repository {
	return New(afero.NewOsFs(), root)
}

func (r *Repository) abs(p string) string {
	if p == "" {
		return r.root
	}
	return filepath.Join(r.root, filepath.FromSlash(p))
}

func (r *Repository) FetchTree(ctx context.Context, node tree.LocalNode, _ tree.Depth) (remote.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := r.fs.Stat(r.abs(node.Path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, remote.Transport("stat", node, err)
	}
	return r.handle(node.Path, info), nil
}

func (r *Repository) handle(p string, info fs.FileInfo) *Handle {
	h := &Handle{repo: r, path: p, dir: info.IsDir()}
	if !h.dir {
		h.size = info.Size()
		h.modTime = info.ModTime().UTC()
	}
	return h
}

// ToBytes emits the bare remote.Identity, so equal files in different
// directories serialize equally.
func (r *Repository) ToBytes(h remote.Handle) (syncstore.Marker, error) {
	dh, ok := h.(*Handle)
	if !ok {
		return nil, fmt.Errorf("dirremote: foreign handle %T", h)
	}
	if dh.dir {
		return json.Marshal(remote.Identity{Kind: remote.KindDir})
	}
	if err := dh.ensureETag(); err != nil {
		return nil, err
	}
	return json.Marshal(remote.Identity{Kind: remote.KindFile, ETag: dh.etag, Size: dh.size})
}

func (r *Repository) FromBytes(node tree.LocalNode, m syncstore.Marker) (remote.Handle, error) {
	if m == nil {
		return nil, nil
	}
	var mk remote.Identity
	if err := json.Unmarshal(m, &mk); err != nil {
		return nil, fmt.Errorf("dirremote: decode marker for %s: %w", node, err)
	}
	return &Handle{
		repo: r,
		path: node.Path,
		dir:  mk.Kind == remote.KindDir,
		etag: mk.ETag,
		size: mk.Size,
	}, nil
}

// IsDescendant always holds: a directory keeps no history, its current
// content is the only line of descent.
func (r *Repository) IsDescendant(tree.LocalNode, syncstore.Marker, syncstore.Marker) bool {
	return true
}

// Handle is a file or directory below the repository root.
type Handle struct {
	repo    *Repository
	path    string
	dir     bool
	etag    string
	size    int64
	modTime time.Time
}

func (h *Handle) Name() string {
	return tree.LocalNode{Path: h.path}.Name()
}

func (h *Handle) Path() string {
	return h.path
}

func (h *Handle) IsContainer() bool {
	return h.dir
}

func (h *Handle) Size() int64 {
	return h.size
}

// ModTime is zero for handles decoded from a marker.
func (h *Handle) ModTime() time.Time {
	return h.modTime
}

func (h *Handle) Members(ctx context.Context) ([]remote.Handle, error) {
	if !h.dir {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	node := tree.LocalNode{Path: h.path, Container: true}
	entries, err := afero.ReadDir(h.repo.fs, h.repo.abs(h.path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, remote.Transport("members", node, err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	members := make([]remote.Handle, 0, len(entries))
	for _, entry := range entries {
		members = append(members, h.repo.handle(node.Child(entry.Name(), entry.IsDir()).Path, entry))
	}
	return members, nil
}

func (h *Handle) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := h.repo.fs.Open(h.repo.abs(h.path))
	if err != nil {
		return nil, remote.Transport("open", tree.File(h.path), err)
	}
	return f, nil
}

func (h *Handle) ensureETag() error {
	if h.etag != "" {
		return nil
	}
	f, err := h.repo.fs.Open(h.repo.abs(h.path))
	if err != nil {
		return remote.Transport("hash", tree.File(h.path), err)
	}
	defer f.Close()

	etag, err := utils.HashReader(f)
	if err != nil {
		return remote.Transport("hash", tree.File(h.path), err)
	}
	h.etag = etag
	return nil
}

// Revision is the content etag.
func (h *Handle) Revision() string {
	if h.dir {
		return ""
	}
	if err := h.ensureETag(); err != nil {
		return ""
	}
	return h.etag
}

func (h *Handle) Digest() string {
	return h.Revision()
}
