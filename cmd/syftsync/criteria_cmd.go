package main

import (
	"fmt"

	"github.com/openmined/syftsync/internal/compare"
	"github.com/spf13/cobra"
)

func newCriteriaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "criteria",
		Short: "Show or change the comparison criteria",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List the known criteria",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := loadConfig(cmd)
				if err != nil {
					return err
				}

				reg := compare.DefaultRegistry()
				out := cmd.OutOrStdout()
				for _, c := range reg.List() {
					mark := " "
					if c.ID() == cfg.Criteria {
						mark = cyan("*")
					}
					fmt.Fprintf(out, "%s %-18s %s\n", mark, c.ID(), gray.Render(c.Name()))
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "use <id>",
			Short: "Select the criteria and save it to the config",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				if err := compare.DefaultRegistry().Select(args[0]); err != nil {
					return err
				}

				cfg.Criteria = args[0]
				if err := cfg.Save(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "criteria %s saved to %s\n", cyan(args[0]), cfg.Path)
				return nil
			},
		},
	)
	return cmd
}
