package main

import (
	"fmt"

	"github.com/openmined/syftsync/internal/version"
	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print SyftSync version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			output, _ := cmd.Flags().GetString("output")
			if err := checkOutput(output); err != nil {
				return err
			}
			if output == outputYAML {
				return writeYAML(cmd.OutOrStdout(), version.Current())
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version.Detailed())
			return err
		},
	}
	cmd.Flags().StringP("output", "o", outputText, "Output format (text|yaml)")
	return cmd
}
