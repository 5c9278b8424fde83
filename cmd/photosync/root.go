package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/lucasew/photosync/internal/errutil"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "photosync",
	Short: "Mirrors a Synology Photos album into memory and serves it over HTTP",
	Long: `photosync keeps a bounded in-memory copy of one Synology Photos album,
refreshed in the background, and serves the photos over HTTP.

Every flag can also be set through a PHOTOS_ prefixed environment variable,
e.g. --max-cache through PHOTOS_MAX_CACHE.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if _, printErr := fmt.Fprintln(os.Stderr, err); printErr != nil {
			errutil.ReportError(printErr, "Failed to print error to stderr")
		}
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (text, json)")

	mustBindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	mustBindPFlag("log-format", rootCmd.PersistentFlags().Lookup("log-format"))
}

func initConfig() {
	viper.SetEnvPrefix("PHOTOS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	setupLogger(viper.GetString("log-level"), viper.GetString("log-format"))
}

func setupLogger(level, format string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		errutil.LogMsg(err, "Unknown log level, using info", "level", level)
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, opts)))
		return
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
	if format != "text" && format != "" {
		slog.Warn("Unknown log format, using text", "format", format)
	}
}

func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag %q: %v", key, err))
	}
}
