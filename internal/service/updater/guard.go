package updater

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-ps"

	"github.com/oshokin/update-binary/internal/logger"
)

// errAlreadyRunning is returned when another updater holds the device.
var errAlreadyRunning = errors.New("another update-binary is already running")

// processLister returns the process table.
type processLister func() ([]ps.Process, error)

// ensureSingleInstance fails when a process with the same executable name
// as this one, other than itself, is running.
func ensureSingleInstance(ctx context.Context, list processLister) error {
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve own executable: %w", err)
	}

	return checkSingleInstance(ctx, list, filepath.Base(self), os.Getpid())
}

func checkSingleInstance(ctx context.Context, list processLister, executable string, selfPID int) error {
	logger.Debug(ctx, "Checking for other running updaters")

	processes, err := list()
	if err != nil {
		return fmt.Errorf("list processes: %w", err)
	}

	for _, process := range processes {
		if process.Pid() == selfPID || process.Executable() != executable {
			continue
		}

		logger.WarnKV(ctx, "Found a concurrent updater", "pid", process.Pid(), "executable", executable)

		return fmt.Errorf("%w: pid %d", errAlreadyRunning, process.Pid())
	}

	return nil
}
