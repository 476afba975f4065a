package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write the config file and prepare the workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if _, err := openWorkspace(cfg); err != nil {
				return err
			}
			if err := cfg.Save(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", green("config"), cfg.Path)
			fmt.Fprintf(out, "%s %s\n", green("workspace"), cfg.DataDir)
			return nil
		},
	}
}
