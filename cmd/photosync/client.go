package main

import (
	"github.com/lucasew/photosync"
	"github.com/spf13/cobra"
)

// addServerFlag registers --server on a client command.
func addServerFlag(cmd *cobra.Command) {
	cmd.Flags().StringSlice("server", nil, "photosync servers to ask, in order (default: $"+photosync.ServerEnv+")")
}

func newClient(cmd *cobra.Command) (*photosync.Client, error) {
	servers, err := cmd.Flags().GetStringSlice("server")
	if err != nil {
		return nil, err
	}
	if len(servers) == 0 {
		servers = photosync.ServersFromEnv()
	}
	if len(servers) == 0 {
		servers = []string{"http://localhost:5000"}
	}
	return photosync.NewClient(nil, servers), nil
}
