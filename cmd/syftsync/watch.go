package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/openmined/syftsync/internal/subscriber"
	"github.com/openmined/syftsync/internal/syncjob"
	"github.com/openmined/syftsync/internal/workspace"
	"github.com/spf13/cobra"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the caches fresh on a timer and on local changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			noWatcher, _ := cmd.Flags().GetBool("no-watcher")
			parallel, _ := cmd.Flags().GetInt("parallel")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.ws.Lock(); err != nil {
				if errors.Is(err, workspace.ErrWorkspaceLocked) {
					return fmt.Errorf("%w: another syftsync watch is running on %s", err, a.ws.Root)
				}
				return err
			}
			defer a.ws.Unlock()

			a.sub.AddListener(func(s *subscriber.Subscriber, ev subscriber.ChangeEvent) {
				slog.Info("sync state changed", "batch", ev.BatchID, "nodes", len(ev.Nodes))
			})

			opts := []syncjob.Option{
				syncjob.WithInterval(cfg.Interval()),
				syncjob.WithParallelism(parallel),
			}
			if !noWatcher {
				w := syncjob.NewWatcher(a.ws.Root)
				w.FilterPaths(func(path string) bool {
					n, err := a.tree.Node(path)
					if err != nil {
						return true
					}
					return a.ignore.IsIgnored(n)
				})
				opts = append(opts, syncjob.WithWatcher(w))
			}

			job := syncjob.New(a.sub, a.ws, opts...)
			if err := job.Start(cmd.Context()); err != nil {
				return err
			}
			slog.Info("watching", "workspace", a.ws.Root, "interval", cfg.Interval())

			<-cmd.Context().Done()
			job.Wait()
			slog.Info("Bye!")
			return nil
		},
	}

	cmd.Flags().Bool("no-watcher", false, "Only refresh on the timer")
	cmd.Flags().Int("parallel", 4, "Projects refreshed concurrently")
	return cmd
}
