package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "cfxbridge",
		Short:         "Bridge CFX endpoints onto a message broker",
		Long:          "cfxbridge opens logical CFX endpoints on a broker transport and serves their control surface over stdio or a websocket.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the cfxbridge version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "cfxbridge %s\n", version)
			return err
		},
	}
}
