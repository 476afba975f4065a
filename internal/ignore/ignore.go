// Package ignore decides which local nodes are left out of synchronization.
//
// Three sources are consulted: global patterns kept in a state file, patterns
// contributed by extensions at run time, and a .syncignore file at the top of
// each project.
package ignore

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/openmined/syftsync/internal/tree"
	gitignore "github.com/sabhiram/go-gitignore"
	"github.com/spf13/afero"
)

const FileName = ".syncignore"

var (
	ErrInvalidPattern = errors.New("invalid ignore pattern")
	ErrUnknownPattern = errors.New("unknown ignore pattern")
)

var defaultIgnoreLines = []string{
	// syftsync
	FileName,
	"**/*.syncconflict*",
	// python
	".ipynb_checkpoints/",
	"__pycache__/",
	"*.py[cod]",
	"venv/",
	".venv/",
	// IDE/Editor-specific
	".vscode",
	".idea",
	// General excludes
	".git",
	"*.tmp",
	"*.swp",
	// OS-specific
	".DS_Store",
	"Thumbs.db",
}

type Pattern struct {
	Pattern string `json:"pattern" yaml:"pattern"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
}

type Registry struct {
	fs        afero.Fs
	root      string
	statePath string

	mu         sync.RWMutex
	global     []Pattern
	extensions map[string][]string
	projects   map[string]*gitignore.GitIgnore
}

// NewRegistry reads project ignore files below root and keeps global
// patterns in statePath. Call Load to read previously saved patterns.
func NewRegistry(fsys afero.Fs, root, statePath string) *Registry {
	return &Registry{
		fs:         fsys,
		root:       root,
		statePath:  statePath,
		extensions: make(map[string][]string),
		projects:   make(map[string]*gitignore.GitIgnore),
	}
}

func validate(pattern string) error {
	if strings.TrimSpace(pattern) == "" || !doublestar.ValidatePattern(strings.TrimSuffix(pattern, "/")) {
		return fmt.Errorf("%w: %q", ErrInvalidPattern, pattern)
	}
	return nil
}

// Add registers an enabled global pattern. Adding a known pattern enables it.
func (r *Registry) Add(pattern string) error {
	if err := validate(pattern); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.global {
		if r.global[i].Pattern == pattern {
			r.global[i].Enabled = true
			return nil
		}
	}
	r.global = append(r.global, Pattern{Pattern: pattern, Enabled: true})
	return nil
}

func (r *Registry) Remove(pattern string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.global {
		if r.global[i].Pattern == pattern {
			r.global = append(r.global[:i], r.global[i+1:]...)
			return true
		}
	}
	return false
}

func (r *Registry) SetEnabled(pattern string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.global {
		if r.global[i].Pattern == pattern {
			r.global[i].Enabled = enabled
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownPattern, pattern)
}

// Patterns returns a copy of the global patterns.
func (r *Registry) Patterns() []Pattern {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Pattern(nil), r.global...)
}

// Contribute replaces the patterns of an extension. They are not persisted.
func (r *Registry) Contribute(extensionID string, patterns ...string) error {
	for _, p := range patterns {
		if err := validate(p); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(patterns) == 0 {
		delete(r.extensions, extensionID)
		return nil
	}
	r.extensions[extensionID] = append([]string(nil), patterns...)
	return nil
}

// Extensions lists the ids of contributing extensions.
func (r *Registry) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.extensions))
	for id := range r.extensions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Reload drops the cached project ignore files.
func (r *Registry) Reload() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.projects = make(map[string]*gitignore.GitIgnore)
}

// IsIgnored reports whether node or one of its ancestors inside the project matches.
func (r *Registry) IsIgnored(node tree.LocalNode) bool {
	if node.IsRoot() {
		return false
	}

	active := r.activePatterns()
	projectIgnore := r.projectIgnore(node.ProjectName())

	for n := node; !n.IsRoot(); n = n.Parent() {
		for _, p := range active {
			if matchPattern(p, n) {
				return true
			}
		}
		rel := n.RelToProject()
		if rel == "" {
			continue
		}
		if n.Container {
			rel += "/"
		}
		if projectIgnore.MatchesPath(rel) {
			return true
		}
	}
	return false
}

func (r *Registry) activePatterns() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var active []string
	for _, p := range r.global {
		if p.Enabled {
			active = append(active, p.Pattern)
		}
	}
	for _, patterns := range r.extensions {
		active = append(active, patterns...)
	}
	return active
}

// matchPattern matches patterns without a slash against the node name and
// the others against the path inside the project. A trailing slash only
// matches containers.
func matchPattern(pattern string, n tree.LocalNode) bool {
	if strings.HasSuffix(pattern, "/") {
		if !n.Container {
			return false
		}
		pattern = strings.TrimSuffix(pattern, "/")
	}

	if !strings.Contains(pattern, "/") {
		ok, _ := doublestar.Match(pattern, n.Name())
		return ok
	}

	rel := n.RelToProject()
	if rel == "" {
		return false
	}
	ok, _ := doublestar.Match(strings.TrimPrefix(pattern, "/"), rel)
	return ok
}

func (r *Registry) projectIgnore(project string) *gitignore.GitIgnore {
	r.mu.RLock()
	gi, ok := r.projects[project]
	r.mu.RUnlock()
	if ok {
		return gi
	}

	gi = gitignore.CompileIgnoreLines(r.readProjectLines(project)...)

	r.mu.Lock()
	r.projects[project] = gi
	r.mu.Unlock()
	return gi
}

func (r *Registry) readProjectLines(project string) []string {
	lines := append([]string(nil), defaultIgnoreLines...)

	ignorePath := filepath.Join(r.root, project, FileName)
	file, err := r.fs.Open(ignorePath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("failed to open ignore file", "path", ignorePath, "error", err)
		}
		return lines
	}
	defer file.Close()

	rules := 0
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			lines = append(lines, line)
			rules++
		}
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("error reading ignore file", "path", ignorePath, "error", err)
	} else {
		slog.Debug("loaded ignore file", "path", ignorePath, "rules", rules)
	}
	return lines
}
