package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/lucasew/photosync/internal/errutil"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var getCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Download a photo, or a random one when no key is given",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		output, err := cmd.Flags().GetString("output")
		if err != nil {
			errutil.ReportError(err, "Failed to get output flag")
			os.Exit(1)
		}

		client, err := newClient(cmd)
		if err != nil {
			errutil.ReportError(err, "Failed to get server flag")
			os.Exit(1)
		}

		var out io.Writer
		if output != "" {
			file, err := os.Create(output)
			if err != nil {
				errutil.ReportError(err, "Failed to create output file")
				os.Exit(1)
			}
			defer func() {
				errutil.LogMsg(file.Close(), "Failed to close output file")
			}()
			out = file
		} else {
			out = os.Stdout
		}

		bar := progressbar.NewOptions64(
			-1,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription("downloading"),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(10),
			progressbar.OptionThrottle(65*time.Millisecond),
			progressbar.OptionOnCompletion(func() {
				if _, err := fmt.Fprint(os.Stderr, "\n"); err != nil {
					errutil.LogMsg(err, "Failed to print newline to stderr")
				}
			}),
		)
		w := io.MultiWriter(out, bar)

		if len(args) == 1 {
			err = client.Fetch(cmd.Context(), args[0], w)
		} else {
			var key string
			key, err = client.Random(cmd.Context(), w)
			if err == nil {
				errutil.LogMsg(bar.Finish(), "Failed to finish progress bar")
				_, printErr := fmt.Fprintln(os.Stderr, key)
				errutil.LogMsg(printErr, "Failed to print key")
			}
		}
		if err != nil {
			errutil.ReportError(err, "Fetch failed")
			if output != "" {
				errutil.LogMsg(os.Remove(output), "Failed to remove output file after failed fetch", "path", output)
			}
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(getCmd)
	getCmd.Flags().StringP("output", "o", "", "Output file")
	addServerFlag(getCmd)
}
