package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gofrs/flock"
	"github.com/openmined/syftsync/internal/utils"
)

const (
	metadataDir     = ".data"
	locksDir        = "locks"
	logsDir         = "logs"
	lockFile        = "syftsync.lock"
	stateDBFile     = "state.db"
	ignoreStateFile = "ignore.bin"
)

var (
	ErrWorkspaceLocked = errors.New("workspace locked by another process")
	ErrProjectLocked   = errors.New("project locked by another refresh")
	ErrInvalidProject  = errors.New("invalid project name")
)

// Workspace is a directory whose top-level folders are projects. Sync state
// lives in the hidden metadata folder.
type Workspace struct {
	Root        string
	MetadataDir string
	LocksDir    string
	LogsDir     string
	StateDB     string
	IgnoreState string

	flock *flock.Flock
}

func NewWorkspace(rootDir string) (*Workspace, error) {
	root, err := utils.ResolvePath(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", rootDir, err)
	}

	meta := filepath.Join(root, metadataDir)
	return &Workspace{
		Root:        root,
		MetadataDir: meta,
		LocksDir:    filepath.Join(meta, locksDir),
		LogsDir:     filepath.Join(meta, logsDir),
		StateDB:     filepath.Join(meta, stateDBFile),
		IgnoreState: filepath.Join(meta, ignoreStateFile),
		flock:       flock.New(filepath.Join(meta, lockFile)),
	}, nil
}

// Lock keeps other syftsync watchers out of the workspace.
func (w *Workspace) Lock() error {
	if err := utils.EnsureDir(w.MetadataDir); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", w.MetadataDir, err)
	}

	locked, err := w.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock workspace: %w", err)
	}
	if !locked {
		return ErrWorkspaceLocked
	}

	return nil
}

func (w *Workspace) Unlock() error {
	// if this process hasn't locked the workspace, then don't delete the lock file
	if !w.flock.Locked() {
		return nil
	}

	if err := w.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock workspace: %w", err)
	}

	return os.Remove(w.flock.Path())
}

// Setup creates the metadata layout. It does not take the workspace lock.
func (w *Workspace) Setup() error {
	for _, dir := range []string{w.Root, w.MetadataDir, w.LocksDir, w.LogsDir} {
		if err := utils.EnsureDir(dir); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	slog.Debug("workspace", "root", w.Root)
	return nil
}

// Projects lists the top-level folders, hidden ones excluded.
func (w *Workspace) Projects() ([]string, error) {
	entries, err := os.ReadDir(w.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}

	var projects []string
	for _, e := range entries {
		if e.IsDir() && IsValidProject(e.Name()) {
			projects = append(projects, e.Name())
		}
	}
	sort.Strings(projects)
	return projects, nil
}

// RelPath returns the slash separated path of absPath inside the workspace.
func (w *Workspace) RelPath(absPath string) (string, error) {
	relPath, err := filepath.Rel(w.Root, absPath)
	if err != nil {
		return "", err
	}
	if relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside workspace %s", absPath, w.Root)
	}
	return NormPath(relPath), nil
}

// ProjectLock serializes refreshes of one project across processes.
type ProjectLock struct {
	Project string
	flock   *flock.Flock
}

// LockProject takes the lock of project without waiting. It returns
// ErrProjectLocked when another holder has it.
func (w *Workspace) LockProject(project string) (*ProjectLock, error) {
	if !IsValidProject(project) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidProject, project)
	}
	if err := utils.EnsureDir(w.LocksDir); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", w.LocksDir, err)
	}

	fl := flock.New(filepath.Join(w.LocksDir, project+".lock"))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock project %s: %w", project, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrProjectLocked, project)
	}
	return &ProjectLock{Project: project, flock: fl}, nil
}

func (l *ProjectLock) Unlock() error {
	if !l.flock.Locked() {
		return nil
	}
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock project %s: %w", l.Project, err)
	}
	return os.Remove(l.flock.Path())
}

// IsValidProject reports whether name can be a project: a single, non hidden
// path segment.
func IsValidProject(name string) bool {
	return name != "" &&
		!strings.HasPrefix(name, ".") &&
		!strings.ContainsAny(name, `/\`)
}

// NormPath normalizes a path by cleaning it, replacing backslashes with slashes, and trimming leading slashes
func NormPath(path string) string {
	path = filepath.Clean(path)
	path = strings.ReplaceAll(path, "\\", "/")
	path = strings.TrimLeft(path, "/")
	return path
}
