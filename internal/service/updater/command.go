package updater

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/mitchellh/go-ps"

	"github.com/oshokin/update-binary/internal/classify"
	"github.com/oshokin/update-binary/internal/config"
	"github.com/oshokin/update-binary/internal/domain/outcome"
	"github.com/oshokin/update-binary/internal/label"
	"github.com/oshokin/update-binary/internal/logger"
	"github.com/oshokin/update-binary/internal/repository/attempt"
	"github.com/oshokin/update-binary/internal/script"
	"github.com/oshokin/update-binary/internal/version"
)

var (
	// ErrUpdateFailed is returned by Run when the script did not succeed.
	ErrUpdateFailed = errors.New("update failed")
	// errUnsupportedAPI is returned for API versions the updater does not speak.
	errUnsupportedAPI = errors.New("wrong updater binary API")
)

const (
	// MinAPIVersion is the oldest recovery API the updater accepts.
	MinAPIVersion = 1
	// MaxAPIVersion is the newest recovery API the updater accepts.
	MaxAPIVersion = 3
)

// Options are inputs accepted by the updater entry point.
type Options struct {
	// ConfigPath is the optional path to settings YAML file.
	ConfigPath string
	// APIVersion is the recovery API version passed by the parent.
	APIVersion int
	// CommandFD is the descriptor of the command pipe.
	CommandFD uintptr
	// Sink replaces CommandFD when set.
	Sink io.Writer
	// PackagePath is the update package to install.
	PackagePath string
	// IsRetry is set when the parent re-runs a failed update.
	IsRetry bool
	// FileContexts is the optional file_contexts path for security labels.
	FileContexts string
}

// Run executes one update attempt and is the public entry point for the CLI.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "update-binary")

	if opts.APIVersion < MinAPIVersion || opts.APIVersion > MaxAPIVersion {
		return fmt.Errorf("%w: expected %d to %d, got %d",
			errUnsupportedAPI, MinAPIVersion, MaxAPIVersion, opts.APIVersion)
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}

	if level, ok := logger.ParseLogLevel(cfg.LogLevel); ok {
		logger.SetLevel(level)
	}

	ctx = logger.WithKV(ctx, "package", opts.PackagePath, "retry", opts.IsRetry)
	logger.InfoKV(ctx, "Starting update", "api", opts.APIVersion, "version", version.Short())

	if cfg.SingleInstance {
		if err = ensureSingleInstance(ctx, ps.Processes); err != nil {
			return err
		}
	}

	engine := script.New(script.WithManifestEntry(cfg.ManifestEntry))
	logger.DebugKV(ctx, "Script functions registered", "functions", engine.Functions())

	orchestrator := New(engine, WithScriptEntry(cfg.ScriptEntry))

	defer func() {
		if closeErr := orchestrator.Close(); closeErr != nil {
			logger.WarnKV(ctx, "Failed to release update resources", "error", closeErr)
		}
	}()

	labels := loadLabels(ctx, opts.FileContexts)
	startedAt := time.Now()

	if opts.Sink != nil {
		err = orchestrator.Init(ctx, opts.Sink, opts.PackagePath, opts.IsRetry, labels)
	} else {
		err = orchestrator.InitFD(ctx, opts.CommandFD, opts.PackagePath, opts.IsRetry, labels)
	}

	if err != nil {
		return err
	}

	succeeded, err := orchestrator.RunUpdate(ctx)

	saveRecord(ctx, cfg, &attempt.Record{
		StartedAt:      startedAt,
		FinishedAt:     time.Now(),
		Package:        opts.PackagePath,
		IsRetry:        opts.IsRetry,
		Phase:          orchestrator.Phase(),
		Result:         orchestrator.Outcome(),
		RetryRequested: orchestrator.Phase() == outcome.Aborted && classify.ShouldRetry(orchestrator.Outcome().CauseCode),
		Version:        version.Short(),
	})

	if err != nil {
		logger.ErrorKV(ctx, "Update could not be reported", "error", err)

		return err
	}

	if !succeeded {
		result := orchestrator.Outcome()

		return fmt.Errorf("%w: error %s, cause %s", ErrUpdateFailed, result.ErrorCode, result.CauseCode)
	}

	logger.Info(ctx, "Update completed")

	return nil
}

// loadLabels reads file_contexts. A missing or broken file is not fatal:
// the attempt goes on without labels and the operator is warned.
func loadLabels(ctx context.Context, path string) *label.Handle {
	if path == "" {
		return nil
	}

	handle, err := label.Load(path)
	if err != nil {
		logger.WarnKV(ctx, "Failed to load file contexts", "path", path, "error", err)

		return nil
	}

	logger.DebugKV(ctx, "Loaded file contexts", "path", handle.Path(), "rules", handle.Rules())

	return handle
}

// saveRecord stores the attempt when a record file is configured.
func saveRecord(ctx context.Context, cfg *config.Config, record *attempt.Record) {
	if cfg.RecordFile == "" {
		return
	}

	var repo attempt.Repository = attempt.NewFileRepository(cfg.RecordFile)
	if err := repo.Save(ctx, record); err != nil {
		logger.WarnKV(ctx, "Failed to save attempt record", "path", cfg.RecordFile, "error", err)
	}
}
