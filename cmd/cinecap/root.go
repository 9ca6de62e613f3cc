package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var socketFlag string
	var configFlag string
	var levelFlag string

	ctx := newCommandContext(&socketFlag, &configFlag, &levelFlag)

	rootCmd := &cobra.Command{
		Use:           "cinecap",
		Short:         "Cinematic camera preview and still capture",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&socketFlag, "socket", "", "Path to the cinecapd socket")
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&levelFlag, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newPreviewCommand(ctx))
	rootCmd.AddCommand(newSnapCommand(ctx))
	rootCmd.AddCommand(newDevicesCommand(ctx))
	rootCmd.AddCommand(newShutterCommand(ctx))

	return rootCmd
}
