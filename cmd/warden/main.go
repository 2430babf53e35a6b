package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"warden/internal/platform/config"
	"warden/internal/platform/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "warden",
		Short:         "Punishment tracking and enforcement service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	load := func() (config.Config, error) {
		return config.Load(configPath)
	}
	root.AddCommand(newServeCmd(load), newMigrateCmd(load), newTokenCmd(load))
	return root
}

type configLoader func() (config.Config, error)

// setup loads the configuration and installs the process logger.
func setup(load configLoader) (config.Config, *slog.Logger, error) {
	cfg, err := load()
	if err != nil {
		return config.Config{}, nil, err
	}
	log, err := logger.New(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, log, nil
}
