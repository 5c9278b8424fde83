package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/lucasew/photosync/internal/app"
	"github.com/lucasew/photosync/internal/eviction"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Starts the sync loop and the HTTP server",
	Run: func(cmd *cobra.Command, args []string) {
		maxCache, err := app.ParseCapacity(viper.GetString("max-cache"))
		if err != nil {
			slog.Error("Invalid max cache", "error", err)
			os.Exit(1)
		}
		interval, err := app.ParseInterval(viper.GetString("interval"))
		if err != nil {
			slog.Error("Invalid sync interval", "error", err)
			os.Exit(1)
		}

		cfg := app.Config{
			Album:            viper.GetString("album"),
			Username:         viper.GetString("username"),
			Password:         viper.GetString("password"),
			Host:             viper.GetString("url"),
			Port:             viper.GetInt("port"),
			PlainHTTP:        viper.GetBool("http"),
			Insecure:         viper.GetBool("insecure"),
			CACertPath:       viper.GetString("ca-cert"),
			MaxCacheBytes:    maxCache,
			EvictionStrategy: viper.GetString("eviction-strategy"),
			Interval:         interval,
			Timeout:          viper.GetDuration("timeout"),
			MinAlbumSize:     viper.GetInt("min-album-size"),
			DownloadWorkers:  viper.GetInt("download-workers"),
			ServerPort:       viper.GetInt("server-port"),
			ShutdownTimeout:  viper.GetDuration("shutdown-timeout"),
		}

		a, err := app.New(cfg)
		if err != nil {
			slog.Error("Failed to initialize server", "error", err)
			os.Exit(1)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := a.Run(ctx); err != nil {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)

	flags := serverCmd.Flags()
	flags.String("album", app.DefaultAlbum, "Album to mirror")
	flags.StringP("username", "u", "", "NAS username")
	flags.StringP("password", "p", "", "NAS password")
	flags.StringP("url", "U", "", "NAS address, host or full URL")
	flags.IntP("port", "P", 0, "NAS port (default: scheme default)")
	flags.Bool("http", false, "Talk plain HTTP to the NAS")
	flags.Bool("insecure", false, "Skip TLS certificate verification")
	flags.String("ca-cert", "", "PEM file with extra CAs trusted for the NAS")
	flags.StringP("max-cache", "m", "250", "Cache capacity, in MiB or with a unit (e.g. 1GiB)")
	flags.String("eviction-strategy", eviction.DefaultStrategy, "Eviction strategy to use ("+strings.Join(eviction.Names(), ", ")+")")
	flags.StringP("interval", "i", "60", "Sync interval, in seconds or as a duration (e.g. 5m)")
	flags.Duration("timeout", app.DefaultTimeout, "Timeout for each NAS request")
	flags.Int("min-album-size", app.DefaultMinAlbumSize, "Skip syncs listing fewer photos than this")
	flags.Int("download-workers", app.DefaultDownloadWorkers, "Concurrent downloads during a sync")
	flags.IntP("server-port", "s", app.DefaultServerPort, "Port to serve photos on")
	flags.Duration("shutdown-timeout", app.DefaultShutdownTimeout, "How long to wait for in-flight work on shutdown")

	for _, name := range []string{
		"album", "username", "password", "url", "port", "http", "insecure", "ca-cert",
		"max-cache", "eviction-strategy", "interval", "timeout", "min-album-size", "download-workers",
		"server-port", "shutdown-timeout",
	} {
		mustBindPFlag(name, flags.Lookup(name))
	}
}
