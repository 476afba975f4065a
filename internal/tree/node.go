// Package tree models the local side of synchronization: nodes of the
// workspace file system and the accessor used to enumerate them.
package tree

import (
	"path"
	"strings"
)

// Depth bounds how far a tree operation descends below its starting node.
type Depth int

const (
	Zero Depth = iota
	One
	Infinite
)

// Next returns the depth used for the children of a node visited at d.
func (d Depth) Next() Depth {
	if d == Infinite {
		return Infinite
	}
	return Zero
}

func (d Depth) String() string {
	switch d {
	case Zero:
		return "zero"
	case One:
		return "one"
	case Infinite:
		return "infinite"
	default:
		return "unknown"
	}
}

// ParseDepth accepts "0", "1", "infinite" and their word forms.
func ParseDepth(s string) (Depth, bool) {
	switch strings.ToLower(s) {
	case "0", "zero":
		return Zero, true
	case "1", "one":
		return One, true
	case "infinite", "inf", "-1":
		return Infinite, true
	}
	return Zero, false
}

// LocalNode identifies a file or container of the workspace by its slash
// separated path relative to the workspace root. The empty path is the
// workspace root itself and the first path segment names the project.
type LocalNode struct {
	Path      string
	Container bool
}

// Root is the workspace root node.
var Root = LocalNode{Path: "", Container: true}

// File returns a leaf node for p.
func File(p string) LocalNode {
	return LocalNode{Path: NormPath(p)}
}

// Dir returns a container node for p.
func Dir(p string) LocalNode {
	return LocalNode{Path: NormPath(p), Container: true}
}

// Project returns the container node of the project named name.
func Project(name string) LocalNode {
	return Dir(name)
}

// NormPath cleans p into the canonical slash separated relative form.
func NormPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean("/" + p)
	return strings.TrimPrefix(p, "/")
}

func (n LocalNode) IsRoot() bool {
	return n.Path == ""
}

// Name is the last path segment, empty for the workspace root.
func (n LocalNode) Name() string {
	if n.IsRoot() {
		return ""
	}
	return path.Base(n.Path)
}

// Parent returns the containing node. The parent of the root is the root.
func (n LocalNode) Parent() LocalNode {
	if n.IsRoot() {
		return Root
	}
	dir := path.Dir(n.Path)
	if dir == "." {
		return Root
	}
	return LocalNode{Path: dir, Container: true}
}

// Child returns the node called name directly below n.
func (n LocalNode) Child(name string, container bool) LocalNode {
	if n.IsRoot() {
		return LocalNode{Path: name, Container: container}
	}
	return LocalNode{Path: n.Path + "/" + name, Container: container}
}

// ProjectName returns the first path segment.
func (n LocalNode) ProjectName() string {
	if n.IsRoot() {
		return ""
	}
	if i := strings.IndexByte(n.Path, '/'); i >= 0 {
		return n.Path[:i]
	}
	return n.Path
}

// RelToProject returns the path of n below its project, "" for the project itself.
func (n LocalNode) RelToProject() string {
	if i := strings.IndexByte(n.Path, '/'); i >= 0 {
		return n.Path[i+1:]
	}
	return ""
}

// IsAncestorOf reports whether other lies strictly below n.
func (n LocalNode) IsAncestorOf(other LocalNode) bool {
	if n.Path == other.Path {
		return false
	}
	if n.IsRoot() {
		return true
	}
	return strings.HasPrefix(other.Path, n.Path+"/")
}

func (n LocalNode) String() string {
	if n.IsRoot() {
		return "/"
	}
	if n.Container {
		return n.Path + "/"
	}
	return n.Path
}
