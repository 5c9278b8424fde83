package main

import (
	"fmt"
	"os"

	"github.com/lucasew/photosync/internal/errutil"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the photos a server knows about",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		client, err := newClient(cmd)
		if err != nil {
			errutil.ReportError(err, "Failed to get server flag")
			os.Exit(1)
		}

		keys, err := client.List(cmd.Context())
		if err != nil {
			errutil.ReportError(err, "List failed")
			os.Exit(1)
		}
		for _, key := range keys {
			if _, err := fmt.Fprintln(cmd.OutOrStdout(), key); err != nil {
				errutil.ReportError(err, "Failed to print key")
				os.Exit(1)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
	addServerFlag(listCmd)
}
