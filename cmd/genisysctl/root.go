package main

import (
	"github.com/spf13/cobra"
)

var (
	configPathFlag string
	logLevelFlag   string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "genisysctl",
		Short: "Run and inspect a GENISYS wayside master controller",
	}
	root.PersistentFlags().StringVar(&configPathFlag, "config", "", "path to a wayside config file (YAML/TOML/JSON)")
	root.PersistentFlags().StringVar(&logLevelFlag, "log-level", "info", "log level: debug, info, warn, error")

	root.AddCommand(newServeCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newControlCmd())
	return root
}
