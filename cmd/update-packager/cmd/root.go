package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/update-binary/internal/config"
	"github.com/oshokin/update-binary/internal/logger"
	"github.com/oshokin/update-binary/internal/service/packager"
	"github.com/oshokin/update-binary/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// scriptPath is the update script to pack.
	scriptPath string
	// outputPath is where the package is written.
	outputPath string

	// rootCmd represents the base command for building update packages.
	rootCmd = &cobra.Command{
		Use:          "update-packager --script FILE --out FILE [entry=]payload...",
		Short:        "Build an update package with a checksum manifest",
		SilenceUsage: true,
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			defer logger.Sync()

			options := &packager.Options{
				ConfigPath: configPath,
				ScriptPath: scriptPath,
				OutputPath: outputPath,
				Payloads:   args,
			}

			return packager.Run(ctx, options)
		},
	}
)

// Execute runs the update-packager CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().StringVarP(&scriptPath, "script", "s", "", "path to the update script")
	rootCmd.Flags().StringVarP(&outputPath, "out", "o", "", "path of the package to write")

	_ = rootCmd.MarkFlagRequired("script")
	_ = rootCmd.MarkFlagRequired("out")
}
