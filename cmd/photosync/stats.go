package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/lucasew/photosync"
	"github.com/lucasew/photosync/internal/errutil"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the cache counters of a server",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		asJSON, err := cmd.Flags().GetBool("json")
		if err != nil {
			errutil.ReportError(err, "Failed to get json flag")
			os.Exit(1)
		}
		client, err := newClient(cmd)
		if err != nil {
			errutil.ReportError(err, "Failed to get server flag")
			os.Exit(1)
		}

		stats, err := client.Stats(cmd.Context())
		if err != nil {
			errutil.ReportError(err, "Stats failed")
			os.Exit(1)
		}

		if asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			err = enc.Encode(stats)
		} else {
			err = printStats(cmd.OutOrStdout(), stats)
		}
		if err != nil {
			errutil.ReportError(err, "Failed to print stats")
			os.Exit(1)
		}
	},
}

func printStats(w io.Writer, s photosync.Stats) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	rows := [][2]string{
		{"Photos cached", humanize.Comma(int64(s.Entries))},
		{"Photos indexed", humanize.Comma(int64(s.Indexed))},
		{"Size", fmt.Sprintf("%s / %s (%.1f%%)",
			humanize.IBytes(uint64(s.TotalBytes)),
			humanize.IBytes(uint64(s.MaxBytes)),
			s.Utilization*100)},
		{"Hits", humanize.Comma(s.Hits)},
		{"Misses", humanize.Comma(s.Misses)},
		{"Stores", humanize.Comma(s.Stores)},
		{"Evictions", humanize.Comma(s.Evictions)},
		{"Removals", humanize.Comma(s.Removals)},
	}
	for _, row := range rows {
		if _, err := fmt.Fprintf(tw, "%s:\t%s\n", row[0], row[1]); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().Bool("json", false, "Print the raw JSON document")
	addServerFlag(statsCmd)
}
