package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dan-strohschein/qpipe/client"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the qpipe version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "qpipe %s\n", client.Version)
		},
	}
}
