package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/update-binary/internal/config"
	"github.com/oshokin/update-binary/internal/logger"
	"github.com/oshokin/update-binary/internal/service/updater"
	"github.com/oshokin/update-binary/internal/version"
)

// retryArgument marks a re-run of a failed update.
const retryArgument = "retry"

var (
	// configPath to the configuration YAML file.
	configPath string
	// fileContexts is the optional file_contexts path for security labels.
	fileContexts string

	// rootCmd represents the base command for installing an update package.
	rootCmd = &cobra.Command{
		Use:          "update-binary <api-version> <command-fd> <package> [retry]",
		Short:        "Install an update package and report to the recovery over a pipe",
		Args:         cobra.RangeArgs(3, 4),
		SilenceUsage: true,
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			defer logger.Sync()

			options, err := parseArgs(ctx, args)
			if err != nil {
				return err
			}

			return updater.Run(ctx, options)
		},
	}
)

// parseArgs converts the positional arguments passed by the recovery.
func parseArgs(ctx context.Context, args []string) (*updater.Options, error) {
	apiVersion, err := strconv.Atoi(args[0])
	if err != nil {
		return nil, fmt.Errorf("parse api version %q: %w", args[0], err)
	}

	fd, err := strconv.ParseUint(args[1], 10, 31)
	if err != nil {
		return nil, fmt.Errorf("parse command pipe descriptor %q: %w", args[1], err)
	}

	options := &updater.Options{
		ConfigPath:   configPath,
		APIVersion:   apiVersion,
		CommandFD:    uintptr(fd),
		PackagePath:  args[2],
		FileContexts: fileContexts,
	}

	if len(args) == 4 {
		if args[3] == retryArgument {
			options.IsRetry = true
		} else {
			logger.Warnf(ctx, "Unexpected argument: %s", args[3])
		}
	}

	return options, nil
}

// Execute runs the update-binary CLI and exits with non-zero status on error.
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
	rootCmd.Flags().StringVar(&fileContexts, "file-contexts", "", "path to file_contexts used to label extracted files")
}
