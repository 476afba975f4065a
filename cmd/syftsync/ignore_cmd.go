package main

import (
	"fmt"

	"github.com/openmined/syftsync/internal/ignore"
	"github.com/spf13/cobra"
)

func newIgnoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ignore",
		Short: "Manage global ignore patterns",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List global patterns",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withIgnore(cmd, false, func(reg *ignore.Registry) error {
					out := cmd.OutOrStdout()
					for _, p := range reg.Patterns() {
						if p.Enabled {
							fmt.Fprintf(out, "%s %s\n", green("on "), p.Pattern)
						} else {
							fmt.Fprintf(out, "%s %s\n", gray.Render("off"), p.Pattern)
						}
					}
					for _, id := range reg.Extensions() {
						fmt.Fprintln(out, gray.Render("extension "+id))
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "add <pattern>...",
			Short: "Add and enable patterns",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withIgnore(cmd, true, func(reg *ignore.Registry) error {
					for _, p := range args {
						if err := reg.Add(p); err != nil {
							return err
						}
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "rm <pattern>...",
			Short: "Remove patterns",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withIgnore(cmd, true, func(reg *ignore.Registry) error {
					for _, p := range args {
						if !reg.Remove(p) {
							return fmt.Errorf("%w: %q", ignore.ErrUnknownPattern, p)
						}
					}
					return nil
				})
			},
		},
		newIgnoreToggleCmd("enable", true),
		newIgnoreToggleCmd("disable", false),
	)
	return cmd
}

func newIgnoreToggleCmd(use string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <pattern>...",
		Short: use + " patterns without removing them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withIgnore(cmd, true, func(reg *ignore.Registry) error {
				for _, p := range args {
					if err := reg.SetEnabled(p, enabled); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

// withIgnore runs fn on the workspace registry and saves it afterwards when save is set.
func withIgnore(cmd *cobra.Command, save bool, fn func(reg *ignore.Registry) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ws, err := openWorkspace(cfg)
	if err != nil {
		return err
	}
	reg, err := openIgnore(ws)
	if err != nil {
		return err
	}

	if err := fn(reg); err != nil {
		return err
	}
	if !save {
		return nil
	}
	return reg.Save()
}
