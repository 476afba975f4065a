// Package handlecache maps local nodes to remote handles recorded in a sync
// store and keeps them current by refreshing against a repository.
package handlecache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/openmined/syftsync/internal/refresh"
	"github.com/openmined/syftsync/internal/remote"
	"github.com/openmined/syftsync/internal/syncstore"
	"github.com/openmined/syftsync/internal/tree"
)

type Cache struct {
	store  syncstore.Store
	repo   remote.Repository
	walker *refresh.Walker
}

type Option func(*Cache)

// WithFilter restricts refreshes to the children accepted by f.
func WithFilter(f refresh.Filter) Option {
	return func(c *Cache) {
		c.walker.Filter = f
	}
}

func New(local tree.LocalTree, store syncstore.Store, repo remote.Repository, opts ...Option) *Cache {
	c := &Cache{
		store: store,
		repo:  repo,
		walker: &refresh.Walker{
			Tree:       local,
			Store:      store,
			Serializer: repo,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) Store() syncstore.Store {
	return c.store
}

// RemoteHandle returns the recorded handle for node without contacting the
// repository. It returns nil when none is recorded.
func (c *Cache) RemoteHandle(node tree.LocalNode) (remote.Handle, error) {
	m, err := c.store.Get(node)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, nil
	}
	return c.repo.FromBytes(node, m)
}

func (c *Cache) Marker(node tree.LocalNode) (syncstore.Marker, error) {
	return c.store.Get(node)
}

func (c *Cache) HasRemoteHandle(node tree.LocalNode) (bool, error) {
	m, err := c.store.Get(node)
	if err != nil {
		return false, err
	}
	return m != nil, nil
}

// Members lists the recorded children of node that have a remote handle.
func (c *Cache) Members(node tree.LocalNode) ([]tree.LocalNode, error) {
	return c.store.Members(node)
}

// Refresh fetches every root from the repository down to depth and records
// the result. It returns the nodes whose recorded handle changed during this
// call. Roots are refreshed in order; a failing root does not stop the others
// and the failures are joined. Cancellation stops the remaining roots.
func (c *Cache) Refresh(ctx context.Context, roots []tree.LocalNode, depth tree.Depth) ([]tree.LocalNode, error) {
	pass := c.walker.NewPass()

	var errs []error
	for _, root := range roots {
		if err := ctx.Err(); err != nil {
			errs = append(errs, fmt.Errorf("refresh %s: %w", root, err))
			break
		}

		err := c.refreshRoot(ctx, pass, root, depth)
		if err == nil {
			continue
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			errs = append(errs, err)
			break
		}
		slog.Error("refresh root failed", "root", root, "error", err)
		errs = append(errs, err)
	}

	return pass.Changed(), errors.Join(errs...)
}

func (c *Cache) refreshRoot(ctx context.Context, pass *refresh.Pass, root tree.LocalNode, depth tree.Depth) error {
	handle, err := c.repo.FetchTree(ctx, root, depth)
	if err != nil {
		return remote.Transport("fetch", root, err)
	}
	return pass.Collect(ctx, root, handle, depth)
}

// Remove forgets node and everything recorded below it.
func (c *Cache) Remove(node tree.LocalNode) (bool, error) {
	return c.store.Remove(node, tree.Infinite)
}

func (c *Cache) Dispose() error {
	return c.store.Dispose()
}
