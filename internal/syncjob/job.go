// Package syncjob refreshes a workspace in the background: on a timer and
// whenever the file watcher reports a change in a project.
package syncjob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/openmined/syftsync/internal/subscriber"
	"github.com/openmined/syftsync/internal/tree"
	"github.com/openmined/syftsync/internal/workspace"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultInterval    = 30 * time.Second
	defaultParallelism = 4
)

var ErrJobAlreadyRunning = errors.New("refresh already running")

type Job struct {
	sub         *subscriber.Subscriber
	ws          *workspace.Workspace
	watcher     *Watcher
	interval    time.Duration
	parallelism int

	muRun sync.Mutex
	wg    sync.WaitGroup
}

type Option func(*Job)

func WithInterval(d time.Duration) Option {
	return func(j *Job) {
		if d > 0 {
			j.interval = d
		}
	}
}

// WithWatcher refreshes a project shortly after it changes on disk.
func WithWatcher(w *Watcher) Option {
	return func(j *Job) {
		j.watcher = w
	}
}

func WithParallelism(n int) Option {
	return func(j *Job) {
		if n > 0 {
			j.parallelism = n
		}
	}
}

func New(sub *subscriber.Subscriber, ws *workspace.Workspace, opts ...Option) *Job {
	j := &Job{
		sub:         sub,
		ws:          ws,
		interval:    DefaultInterval,
		parallelism: defaultParallelism,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// RunOnce refreshes every root of the subscriber. Projects are refreshed
// concurrently, each while holding its project lock; a project locked
// elsewhere is skipped. Failures of single projects are joined.
func (j *Job) RunOnce(ctx context.Context) error {
	if !j.muRun.TryLock() {
		return ErrJobAlreadyRunning
	}
	defer j.muRun.Unlock()

	roots, err := j.sub.Roots()
	if err != nil {
		return fmt.Errorf("list roots: %w", err)
	}

	tStart := time.Now()
	var (
		mu      sync.Mutex
		errs    []error
		changed int
	)

	var g errgroup.Group
	g.SetLimit(j.parallelism)
	for _, root := range roots {
		root := root
		g.Go(func() error {
			n, err := j.refreshProject(ctx, root.ProjectName())
			mu.Lock()
			defer mu.Unlock()
			changed += n
			if err != nil {
				errs = append(errs, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if changed > 0 {
		slog.Info("refresh", "projects", len(roots), "changed", changed, "tsTotal", time.Since(tStart))
	}
	return errors.Join(errs...)
}

// RefreshProject refreshes one project under its lock.
func (j *Job) RefreshProject(ctx context.Context, project string) error {
	_, err := j.refreshProject(ctx, project)
	return err
}

func (j *Job) refreshProject(ctx context.Context, project string) (int, error) {
	lock, err := j.ws.LockProject(project)
	if errors.Is(err, workspace.ErrProjectLocked) {
		slog.Info("refresh skipped", "project", project, "reason", "locked")
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			slog.Warn("failed to release project lock", "project", project, "error", err)
		}
	}()

	changed, err := j.sub.Refresh(ctx, []tree.LocalNode{tree.Project(project)}, tree.Infinite)
	if err != nil {
		return len(changed), fmt.Errorf("refresh %s: %w", project, err)
	}
	return len(changed), nil
}

// Start runs RunOnce now and then every interval, and refreshes projects
// reported by the watcher. It returns once the loops are running.
func (j *Job) Start(ctx context.Context) error {
	slog.Info("refresh job start", "interval", j.interval)

	if err := j.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("failed to run initial refresh", "error", err)
	}

	if j.watcher != nil {
		if err := j.watcher.Start(ctx); err != nil {
			return fmt.Errorf("failed to start watcher: %w", err)
		}
		j.wg.Add(1)
		go func() {
			defer j.wg.Done()
			j.handleWatcherEvents(ctx)
		}()
	}

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()

		// using a timer and not a ticker to avoid queued ticks when
		// RunOnce takes more than the interval to complete
		timer := time.NewTimer(j.interval)
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
				err := j.RunOnce(ctx)
				if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrJobAlreadyRunning) {
					slog.Error("failed to run refresh", "error", err)
				}
				timer.Reset(j.interval)
			}
		}
	}()

	return nil
}

func (j *Job) handleWatcherEvents(ctx context.Context) {
	events := j.watcher.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case project, ok := <-events:
			if !ok {
				return
			}
			if err := j.RefreshProject(ctx, project); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("failed to refresh changed project", "project", project, "error", err)
			}
		}
	}
}

// Wait blocks until the loops started by Start have returned and stops the watcher.
func (j *Job) Wait() {
	j.wg.Wait()
	if j.watcher != nil {
		j.watcher.Stop()
	}
}
