package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/jmoiron/sqlx"
	"github.com/openmined/syftsync/internal/compare"
	"github.com/openmined/syftsync/internal/config"
	"github.com/openmined/syftsync/internal/db"
	"github.com/openmined/syftsync/internal/ignore"
	"github.com/openmined/syftsync/internal/remote"
	"github.com/openmined/syftsync/internal/remote/dirremote"
	"github.com/openmined/syftsync/internal/remote/s3remote"
	"github.com/openmined/syftsync/internal/subscriber"
	"github.com/openmined/syftsync/internal/syncstore"
	"github.com/openmined/syftsync/internal/tree"
	"github.com/openmined/syftsync/internal/utils"
	"github.com/openmined/syftsync/internal/workspace"
	"github.com/spf13/afero"
)

// ignored everywhere: leftovers of interrupted atomic writes
const appExtensionID = "syftsync"

var tempFilePatterns = []string{"*.tmp.*"}

// app is everything a command needs to talk to one workspace.
type app struct {
	cfg    *config.Config
	ws     *workspace.Workspace
	db     *sqlx.DB
	tree   *tree.FSTree
	ignore *ignore.Registry
	sub    *subscriber.Subscriber

	logs io.Closer
}

func openWorkspace(cfg *config.Config) (*workspace.Workspace, error) {
	ws, err := workspace.NewWorkspace(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	if err := ws.Setup(); err != nil {
		return nil, err
	}
	return ws, nil
}

func openIgnore(ws *workspace.Workspace) (*ignore.Registry, error) {
	reg := ignore.NewRegistry(afero.NewOsFs(), ws.Root, ws.IgnoreState)
	if err := reg.Load(); err != nil {
		return nil, err
	}
	if err := reg.Contribute(appExtensionID, tempFilePatterns...); err != nil {
		return nil, err
	}
	return reg, nil
}

func openRepository(ctx context.Context, cfg *config.Config) (remote.Repository, error) {
	switch cfg.Remote.Kind {
	case config.RemoteS3:
		client, err := s3remote.NewClient(ctx, cfg.Remote.S3)
		if err != nil {
			return nil, err
		}
		return s3remote.New(client, cfg.Remote.S3.Bucket, cfg.Remote.S3.Prefix), nil
	default:
		return dirremote.NewOS(cfg.Remote.Dir), nil
	}
}

func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	opened := false
	defer func() {
		if !opened {
			a.Close()
		}
	}()

	var err error
	if a.logs, err = setupFileLogging(cfg.LogFile); err != nil {
		return nil, err
	}

	if a.ws, err = openWorkspace(cfg); err != nil {
		return nil, err
	}
	if err := utils.EnsureDir(cfg.BaseDir); err != nil {
		return nil, fmt.Errorf("create base dir: %w", err)
	}

	if a.db, err = db.OpenStateDB(a.ws.StateDB); err != nil {
		return nil, err
	}
	backend, err := syncstore.NewSQLiteBackend(a.db)
	if err != nil {
		return nil, err
	}

	repo, err := openRepository(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if a.ignore, err = openIgnore(a.ws); err != nil {
		return nil, err
	}

	a.tree = tree.NewOSTree(a.ws.Root)
	a.sub, err = subscriber.New(subscriber.Options{
		Tree:     a.tree,
		Remote:   repo,
		Base:     dirremote.NewOS(cfg.BaseDir),
		Backend:  backend,
		Ignore:   a.ignore,
		Criteria: compare.DefaultRegistry(),
	})
	if err != nil {
		return nil, err
	}
	if err := a.sub.SelectCriteria(cfg.Criteria); err != nil {
		return nil, err
	}

	slog.Debug("app open", "workspace", a.ws.Root, "remote", cfg.Remote.Kind, "criteria", cfg.Criteria)
	opened = true
	return a, nil
}

// Close keeps both caches on disk for the next run.
func (a *app) Close() error {
	var errs []error
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	if a.logs != nil {
		errs = append(errs, a.logs.Close())
	}
	return errors.Join(errs...)
}

// nodes maps command line paths to workspace nodes. Relative paths are
// resolved against the workspace root.
func (a *app) nodes(args []string) ([]tree.LocalNode, error) {
	nodes := make([]tree.LocalNode, 0, len(args))
	for _, arg := range args {
		abs := arg
		if !filepath.IsAbs(arg) {
			abs = filepath.Join(a.ws.Root, arg)
		}
		n, err := a.tree.Node(abs)
		if err != nil {
			return nil, err
		}
		if !n.Container {
			// a folder that only exists remotely
			if h, _ := a.sub.RemoteHandle(n); h != nil && h.IsContainer() {
				n.Container = true
			}
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// refresh runs a subscriber refresh while holding the lock of every project
// it touches, so it never overlaps with a running watch. It fails with
// workspace.ErrProjectLocked if one of them is taken.
func (a *app) refresh(ctx context.Context, nodes []tree.LocalNode, depth tree.Depth) ([]tree.LocalNode, error) {
	locks, err := a.lockProjects(nodes)
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, l := range locks {
			if err := l.Unlock(); err != nil {
				slog.Warn("failed to release project lock", "project", l.Project, "error", err)
			}
		}
	}()
	return a.sub.Refresh(ctx, nodes, depth)
}

func (a *app) lockProjects(nodes []tree.LocalNode) ([]*workspace.ProjectLock, error) {
	roots := nodes
	projects := mapset.NewSet[string]()
	for _, n := range nodes {
		if n.IsRoot() {
			roots = nil
			break
		}
	}
	if len(roots) == 0 {
		var err error
		if roots, err = a.sub.Roots(); err != nil {
			return nil, err
		}
	}
	for _, n := range roots {
		projects.Add(n.ProjectName())
	}

	names := projects.ToSlice()
	sort.Strings(names)
	locks := make([]*workspace.ProjectLock, 0, len(names))
	for _, project := range names {
		l, err := a.ws.LockProject(project)
		if err != nil {
			for _, held := range locks {
				_ = held.Unlock()
			}
			return nil, err
		}
		locks = append(locks, l)
	}
	return locks, nil
}
