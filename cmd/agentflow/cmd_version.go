package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kbukum/agentflow/version"
)

func versionCmd() *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the engine version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			if !full {
				fmt.Fprintln(cmd.OutOrStdout(), version.EngineVersion())
				return
			}
			info := version.Get()
			fmt.Fprintf(cmd.OutOrStdout(), "version:    %s\ncommit:     %s\nbuilt:      %s\ngo:         %s\ndirty:      %t\n",
				info.Version, info.GitCommit, info.BuildTime, info.GoVersion, info.Dirty)
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "print build details")
	return cmd
}
