package script

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	goupdate "github.com/doitdistributed/go-update"

	"github.com/oshokin/update-binary/internal/domain/outcome"
	"github.com/oshokin/update-binary/internal/logger"
	"github.com/oshokin/update-binary/internal/manifest"
)

var errChecksumMismatch = errors.New("checksum mismatch")

const (
	// extractedFileMode is the mode of files written by package_extract_file.
	extractedFileMode os.FileMode = 0o644
	// parentDirMode is used for directories created on the way to a target.
	parentDirMode os.FileMode = 0o755
)

// package_extract_file(entry, target) atomically replaces target with the
// content of entry. When the package manifest lists entry, its checksum is
// verified before the target is touched. The new file gets its security
// context from the file contexts, if any were loaded.
func packageExtractFileFn(ctx context.Context, call *Call) (string, error) {
	if err := call.Arity(2, 2); err != nil {
		return "", err
	}

	args, err := call.Args(ctx)
	if err != nil {
		return "", err
	}

	entry, target := args[0], args[1]

	container := call.Host().Container()
	if container == nil {
		return "", call.AbortWithCause(outcome.PackageExtractFileFailure, "%s: no package is open", call.Name())
	}

	m, err := call.ev.loadManifest()
	if err != nil {
		return "", call.AbortWithCause(outcome.PackageExtractFileFailure, "%s: read manifest: %v", call.Name(), err)
	}

	var checksum []byte

	if m.HasChecksum(entry) {
		if checksum, err = m.Checksum(entry); err != nil {
			return "", call.AbortWithCause(outcome.PackageExtractFileFailure, "%s: %v", call.Name(), err)
		}
	} else {
		logger.DebugKV(ctx, "No checksum for package entry", "entry", entry)
	}

	if checksum != nil {
		if err = verifyEntry(container, entry, checksum); err != nil {
			return "", call.AbortWithCause(ioCause(err), "%s: %v", call.Name(), err)
		}
	}

	rc, size, err := container.OpenEntry(entry)
	if err != nil {
		return "", call.AbortWithCause(outcome.PackageExtractFileFailure, "%s: %v", call.Name(), err)
	}

	defer func() {
		_ = rc.Close()
	}()

	created, err := ensureTarget(target)
	if err != nil {
		removeCreated(created)

		return "", call.AbortWithCause(ioCause(err), "%s: prepare %s: %v", call.Name(), target, err)
	}

	options := goupdate.Options{
		TargetPath: target,
		TargetMode: extractedFileMode,
		Checksum:   checksum,
		Hash:       manifest.ChecksumFunction,
	}

	if err = goupdate.Apply(rc, options); err != nil {
		removeCreated(created)

		return "", call.AbortWithCause(ioCause(err), "%s: write %s: %v", call.Name(), target, err)
	}

	labeled, err := call.Host().Labels().Apply(target)
	if err != nil {
		return "", call.AbortWithCause(outcome.PackageExtractFileFailure, "%s: %v", call.Name(), err)
	}

	logger.InfoKV(ctx, "Extracted package entry",
		"entry", entry, "target", target, "bytes", size, "labeled", labeled)

	return trueValue, nil
}

// verifyEntry reads entry once and compares its SHA-512 with want.
func verifyEntry(container Container, entry string, want []byte) error {
	rc, _, err := container.OpenEntry(entry)
	if err != nil {
		return err
	}

	defer func() {
		_ = rc.Close()
	}()

	got, err := manifest.Sum(rc)
	if err != nil {
		return fmt.Errorf("read %s: %w", entry, err)
	}

	if !bytes.Equal(got, want) {
		return fmt.Errorf("%w: %s", errChecksumMismatch, entry)
	}

	return nil
}

// ensureTarget creates the target and its parents when missing: the atomic
// apply renames the existing file out of the way first. It returns what it
// created, target first and then directories from the deepest up.
func ensureTarget(target string) ([]string, error) {
	var created []string

	for dir := filepath.Dir(target); ; dir = filepath.Dir(dir) {
		if _, err := os.Stat(dir); err == nil || !errors.Is(err, os.ErrNotExist) {
			break
		}

		created = append(created, dir)

		if parent := filepath.Dir(dir); parent == dir {
			break
		}
	}

	if err := os.MkdirAll(filepath.Dir(target), parentDirMode); err != nil {
		return created, err
	}

	if _, err := os.Stat(target); err == nil || !errors.Is(err, os.ErrNotExist) {
		return created, err
	}

	f, err := os.OpenFile(filepath.Clean(target), os.O_CREATE|os.O_EXCL|os.O_WRONLY, extractedFileMode)
	if err != nil {
		return created, err
	}

	return append([]string{target}, created...), f.Close()
}

// removeCreated undoes ensureTarget. Directories that are no longer empty stay.
func removeCreated(paths []string) {
	for _, path := range paths {
		_ = os.Remove(path)
	}
}

// ioCause maps low-level I/O errors to the cause that triggers a retry.
func ioCause(err error) outcome.CauseCode {
	if errors.Is(err, syscall.EIO) {
		return outcome.EioFailure
	}

	return outcome.PackageExtractFileFailure
}
