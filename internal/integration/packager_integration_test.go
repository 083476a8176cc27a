package integration

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/oshokin/update-binary/internal/channel"
	"github.com/oshokin/update-binary/internal/config"
	"github.com/oshokin/update-binary/internal/service/packager"
)

// buildPackage packs script and payloads with the packager and returns the package path.
func buildPackage(t *testing.T, dir, src string, payloads ...string) string {
	t.Helper()

	scriptPath := filepath.Join(dir, "updater-script")
	require.NoError(t, os.WriteFile(scriptPath, []byte(src), 0o600))

	output := filepath.Join(dir, "update.zip")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := packager.Run(ctx, &packager.Options{
		ConfigPath: filepath.Join(dir, config.DefaultConfigFilename),
		ScriptPath: scriptPath,
		OutputPath: output,
		Payloads:   payloads,
	})
	require.NoError(t, err)

	return output
}

// writeSettings stores update-binary settings that record attempts.
func writeSettings(t *testing.T, dir string) (string, string) {
	t.Helper()

	cfg := config.Default()
	cfg.SingleInstance = false
	cfg.LogLevel = "debug"
	cfg.RecordFile = filepath.Join(dir, "last_attempt.json")

	path := filepath.Join(dir, config.DefaultConfigFilename)
	require.NoError(t, config.Save(path, cfg))

	return path, cfg.RecordFile
}

// commandPipe returns a writable descriptor for update-binary and the
// read end the recovery would consume.
func commandPipe(t *testing.T) (uintptr, *os.File) {
	t.Helper()

	r, w, err := os.Pipe()
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = r.Close()
	})

	fd, err := unix.Dup(int(w.Fd()))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	return uintptr(fd), r
}

// readCommands drains the pipe once update-binary has released its end.
func readCommands(t *testing.T, r io.Reader) []string {
	t.Helper()

	data, err := io.ReadAll(r)
	require.NoError(t, err)

	return channel.Lines(data)
}

// TestPackager_BuildsInstallablePackage packs a payload and checks the
// manifest entries of the result.
func TestPackager_BuildsInstallablePackage(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	payload := filepath.Join(dir, "hosts")
	require.NoError(t, os.WriteFile(payload, []byte("127.0.0.1 localhost\n"), 0o600))

	output := buildPackage(t, dir, `ui_print("ok");`, "system/etc/hosts="+payload)

	info, err := os.Stat(output)
	require.NoError(t, err)
	require.Positive(t, info.Size())
}
