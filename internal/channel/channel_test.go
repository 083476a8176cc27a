package channel

import (
	"bytes"
	"context"
	"io"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sys/unix"

	"github.com/oshokin/update-binary/internal/domain/outcome"
	"github.com/oshokin/update-binary/internal/logger"
)

// brokenPipe fails every write like a pipe whose reader went away.
type brokenPipe struct {
	// writes counts attempted writes.
	writes int
}

func (b *brokenPipe) Write([]byte) (int, error) {
	b.writes++

	return 0, syscall.EPIPE
}

// TestUiPrint_SplitsAndSkipsEmptyLines verifies one command per non-empty segment and verbatim logging.
func TestUiPrint_SplitsAndSkipsEmptyLines(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	ctx := logger.ToContext(context.Background(), zap.New(core).Sugar())

	var buf bytes.Buffer

	c := New(&buf)
	require.NoError(t, c.UiPrint(ctx, "a\nb\n\n"))

	require.Equal(t, []string{"ui_print a", "ui_print b"}, Lines(buf.Bytes()))
	require.Equal(t, 1, logs.Len())
	require.Equal(t, "a\nb\n\n", logs.All()[0].Message)
}

// TestUiPrint_LogsOnBrokenPipe keeps the message in the local log when the parent cannot receive it.
func TestUiPrint_LogsOnBrokenPipe(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	ctx := logger.ToContext(context.Background(), zap.New(core).Sugar())

	c := New(new(brokenPipe))

	err := c.UiPrint(ctx, "E35: read error\nsystem")
	require.ErrorIs(t, err, ErrChannelWrite)
	require.Equal(t, 1, logs.Len())
	require.Equal(t, "E35: read error\nsystem", logs.All()[0].Message)
}

// TestUiPrint_EmptyMessage sends nothing for an empty message.
func TestUiPrint_EmptyMessage(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	c := New(&buf)
	require.NoError(t, c.UiPrint(context.Background(), "\n\n"))
	require.Empty(t, buf.String())
}

// TestCommands checks the wire format of every protocol command.
func TestCommands(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	c := New(&buf)
	require.NoError(t, c.WriteLine("raw text", false))
	require.NoError(t, c.UiPrintLine(""))
	require.NoError(t, c.LogError(outcome.ScriptExecutionFailure))
	require.NoError(t, c.LogCause(outcome.EioFailure))
	require.NoError(t, c.RetryUpdate())
	require.NoError(t, c.SetProgress(0.5))
	require.NoError(t, c.Progress(0.25, 10))

	require.Equal(t, []string{
		"raw text",
		"ui_print ",
		"log error: 25",
		"log cause: 300",
		"retry_update",
		"set_progress 0.5",
		"progress 0.25 10",
	}, Lines(buf.Bytes()))
}

// TestWriteLine_Buffering verifies that line buffering pushes each line and that block buffering waits for a forced flush.
func TestWriteLine_Buffering(t *testing.T) {
	t.Parallel()

	var lineBuf bytes.Buffer

	lined := New(&lineBuf)
	require.NoError(t, lined.WriteLine("first", false))
	require.Equal(t, "first\n", lineBuf.String())

	var blockBuf bytes.Buffer

	block := New(&blockBuf, WithBlockBuffering())
	require.NoError(t, block.WriteLine("first", false))
	require.Empty(t, blockBuf.String())

	require.NoError(t, block.WriteLine("second", true))
	require.Equal(t, "first\nsecond\n", blockBuf.String())
}

// TestWriteLine_BrokenPipe ensures the first failure is surfaced and the stream is not touched again.
func TestWriteLine_BrokenPipe(t *testing.T) {
	t.Parallel()

	pipe := new(brokenPipe)
	c := New(pipe)

	err := c.WriteLine("ui_print hello", false)
	require.ErrorIs(t, err, ErrChannelWrite)
	require.ErrorIs(t, err, syscall.EPIPE)
	require.Equal(t, 1, pipe.writes)

	err = c.RetryUpdate()
	require.ErrorIs(t, err, ErrChannelWrite)
	require.Equal(t, 1, pipe.writes)
	require.ErrorIs(t, c.Err(), ErrChannelWrite)
}

// TestOpen_Descriptors exercises Open with a writable pipe end, a read-only end and a closed descriptor.
func TestOpen_Descriptors(t *testing.T) {
	t.Parallel()

	r, w, err := os.Pipe()
	require.NoError(t, err)

	defer func() {
		_ = r.Close()
		_ = w.Close()
	}()

	fd, err := unix.Dup(int(w.Fd()))
	require.NoError(t, err)

	c, closer, err := Open(uintptr(fd))
	require.NoError(t, err)
	require.NoError(t, c.UiPrintLine("hello"))
	require.NoError(t, closer.Close())
	require.NoError(t, w.Close())

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "ui_print hello\n", string(data))

	_, _, err = Open(r.Fd())
	require.ErrorIs(t, err, ErrChannelOpen)

	_, _, err = Open(1 << 24)
	require.ErrorIs(t, err, ErrChannelOpen)
}

// TestLines handles empty input.
func TestLines(t *testing.T) {
	t.Parallel()

	require.Nil(t, Lines(nil))
	require.Equal(t, []string{"a", "", "b"}, Lines([]byte("a\n\nb\n")))
}
