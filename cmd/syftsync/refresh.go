package main

import (
	"fmt"
	"time"

	"github.com/openmined/syftsync/internal/tree"
	"github.com/spf13/cobra"
)

func newRefreshCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refresh [paths...]",
		Short: "Bring the remote and base caches up to date",
		RunE: func(cmd *cobra.Command, args []string) error {
			depthFlag, _ := cmd.Flags().GetString("depth")
			quiet, _ := cmd.Flags().GetBool("quiet")

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

			start := time.Now()
			changed, err := a.refresh(cmd.Context(), nodes, depth)

			out := cmd.OutOrStdout()
			if !quiet {
				for _, n := range changed {
					fmt.Fprintln(out, gray.Render(n.String()))
				}
			}
			fmt.Fprintf(out, "%d changed in %s\n", len(changed), time.Since(start).Round(time.Millisecond))
			return err
		},
	}

	cmd.Flags().String("depth", tree.Infinite.String(), "Depth below each path (zero|one|infinite)")
	cmd.Flags().BoolP("quiet", "q", false, "Only print the summary")
	return cmd
}
