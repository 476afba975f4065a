package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/openmined/syftsync/internal/syncstate"
	"github.com/openmined/syftsync/internal/tree"
	"github.com/spf13/cobra"
)

type statusEntry struct {
	Path      string          `yaml:"path"`
	Container bool            `yaml:"container,omitempty"`
	State     syncstate.State `yaml:"state"`
	Size      int64           `yaml:"size,omitempty"`
	ModTime   time.Time       `yaml:"mod_time,omitempty"`
}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [paths...]",
		Short: "Refresh and print the sync state of workspace nodes",
		RunE: func(cmd *cobra.Command, args []string) error {
			output, _ := cmd.Flags().GetString("output")
			depthFlag, _ := cmd.Flags().GetString("depth")
			all, _ := cmd.Flags().GetBool("all")

			if err := checkOutput(output); err != nil {
				return err
			}
			depth, ok := tree.ParseDepth(depthFlag)
			if !ok {
				return fmt.Errorf("unknown depth %q", depthFlag)
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			nodes, err := a.nodes(args)
			if err != nil {
				return err
			}

			// a failing root still leaves the others refreshed
			_, refreshErr := a.refresh(cmd.Context(), nodes, depth)
			if errors.Is(refreshErr, context.Canceled) {
				return refreshErr
			}

			if len(nodes) == 0 {
				if nodes, err = a.sub.Roots(); err != nil {
					return err
				}
			}

			entries, err := collectStatus(cmd.Context(), a, nodes, depth, all)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if output == outputYAML {
				err = writeYAML(out, entries)
			} else {
				printStatus(out, entries)
			}
			return errors.Join(err, refreshErr)
		},
	}

	cmd.Flags().StringP("output", "o", outputText, "Output format (text|yaml)")
	cmd.Flags().String("depth", tree.Infinite.String(), "Depth below each path (zero|one|infinite)")
	cmd.Flags().BoolP("all", "a", false, "Include nodes that are in sync")
	return cmd
}

func collectStatus(ctx context.Context, a *app, nodes []tree.LocalNode, depth tree.Depth, all bool) ([]statusEntry, error) {
	var entries []statusEntry

	var visit func(n tree.LocalNode, d tree.Depth) error
	visit = func(n tree.LocalNode, d tree.Depth) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		state, err := a.sub.SyncState(ctx, n)
		if err != nil {
			return err
		}
		if all || !state.IsInSync() {
			entries = append(entries, a.entry(n, state))
		}

		if d == tree.Zero || !n.Container {
			return nil
		}
		members, err := a.sub.Members(n)
		if err != nil {
			return err
		}
		for _, m := range members {
			if err := visit(m, d.Next()); err != nil {
				return err
			}
		}
		return nil
	}

	for _, n := range nodes {
		if err := visit(n, depth); err != nil {
			return entries, err
		}
	}
	return entries, nil
}

func (a *app) entry(n tree.LocalNode, state syncstate.State) statusEntry {
	e := statusEntry{Path: n.Path, Container: n.Container, State: state}
	if info, err := os.Stat(a.tree.AbsPath(n)); err == nil && !info.IsDir() {
		e.Size = info.Size()
		e.ModTime = info.ModTime()
	}
	return e
}

func printStatus(w io.Writer, entries []statusEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, green("Everything is in sync"))
		return
	}

	for _, e := range entries {
		path := e.Path
		if e.Container {
			path += "/"
		}

		var meta string
		if !e.ModTime.IsZero() {
			meta = gray.Render(fmt.Sprintf("%s, %s", humanize.Bytes(uint64(e.Size)), humanize.Time(e.ModTime)))
		}
		fmt.Fprintf(w, "%s %s %s\n", colorState(e.State), path, meta)
	}

	fmt.Fprintln(w, bold.Render(fmt.Sprintf("%d %s", len(entries), pluralNodes(len(entries)))))
}

func pluralNodes(n int) string {
	if n == 1 {
		return "node"
	}
	return "nodes"
}
