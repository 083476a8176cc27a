package channel

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/oshokin/update-binary/internal/domain/outcome"
	"github.com/oshokin/update-binary/internal/logger"
)

// Commands of the parent protocol.
const (
	CommandUIPrint     = "ui_print"
	CommandLogError    = "log error:"
	CommandLogCause    = "log cause:"
	CommandRetryUpdate = "retry_update"
	CommandSetProgress = "set_progress"
	CommandProgress    = "progress"
)

var (
	// ErrChannelOpen is returned when a descriptor cannot be used as the command pipe.
	ErrChannelOpen = errors.New("open command channel")
	// ErrChannelWrite is returned once the underlying stream refuses a write.
	ErrChannelWrite = errors.New("write command channel")
)

// Channel serializes commands to the parent process.
// It is not safe for concurrent use; an update attempt owns exactly one.
type Channel struct {
	// out buffers writes until a line is complete.
	out *bufio.Writer
	// lineBuffered pushes every complete line to the stream.
	lineBuffered bool
	// err is the first write failure; a broken channel stays broken.
	err error
}

// Option configures a Channel.
type Option func(*Channel)

// WithBlockBuffering disables line buffering. Lines then reach the stream
// only on a forced flush, a full buffer or Flush.
func WithBlockBuffering() Option {
	return func(c *Channel) {
		c.lineBuffered = false
	}
}

// New wraps an already open, write-only stream. The channel is line buffered.
func New(w io.Writer, opts ...Option) *Channel {
	c := &Channel{
		out:          bufio.NewWriter(w),
		lineBuffered: true,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Open wraps a numeric file descriptor inherited from the parent.
// The returned closer releases the descriptor.
func Open(fd uintptr) (*Channel, io.Closer, error) {
	flags, err := unix.FcntlInt(fd, unix.F_GETFL, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: fd %d: %w", ErrChannelOpen, fd, err)
	}

	if mode := flags & unix.O_ACCMODE; mode != unix.O_WRONLY && mode != unix.O_RDWR {
		return nil, nil, fmt.Errorf("%w: fd %d is not writable", ErrChannelOpen, fd)
	}

	file := os.NewFile(fd, "cmd_pipe")
	if file == nil {
		return nil, nil, fmt.Errorf("%w: fd %d", ErrChannelOpen, fd)
	}

	return New(file), file, nil
}

// WriteLine writes text followed by a newline. The line is flushed at its
// boundary; forceFlush additionally flushes whatever is still buffered.
// No escaping is done: text must not contain newlines.
func (c *Channel) WriteLine(text string, forceFlush bool) error {
	if c.err != nil {
		return c.err
	}

	if _, err := c.out.WriteString(text); err != nil {
		return c.fail(err)
	}

	if err := c.out.WriteByte('\n'); err != nil {
		return c.fail(err)
	}

	if c.lineBuffered || forceFlush {
		return c.Flush()
	}

	return nil
}

// Flush pushes buffered lines to the stream.
func (c *Channel) Flush() error {
	if c.err != nil {
		return c.err
	}

	if err := c.out.Flush(); err != nil {
		return c.fail(err)
	}

	return nil
}

// UiPrint records message verbatim in the local log, then emits one
// "ui_print" command per non-empty line of message. The log entry is kept
// even when the channel write fails.
func (c *Channel) UiPrint(ctx context.Context, message string) error { //nolint:revive // Protocol name.
	logger.Info(ctx, message)

	for line := range strings.SplitSeq(message, "\n") {
		if line == "" {
			continue
		}

		if err := c.WriteLine(CommandUIPrint+" "+line, false); err != nil {
			return err
		}
	}

	return nil
}

// UiPrintLine emits a single "ui_print" command without splitting or logging.
// Empty lines are sent too.
func (c *Channel) UiPrintLine(line string) error { //nolint:revive // Protocol name.
	return c.WriteLine(CommandUIPrint+" "+line, false)
}

// LogError reports the terminal error code of the attempt.
func (c *Channel) LogError(code outcome.ErrorCode) error {
	return c.WriteLine(CommandLogError+" "+code.String(), false)
}

// LogCause reports the cause code of the attempt.
func (c *Channel) LogCause(cause outcome.CauseCode) error {
	return c.WriteLine(CommandLogCause+" "+cause.String(), false)
}

// RetryUpdate asks the parent to re-run the whole update.
func (c *Channel) RetryUpdate() error {
	return c.WriteLine(CommandRetryUpdate, true)
}

// SetProgress moves the progress bar to fraction within the current segment.
func (c *Channel) SetProgress(fraction float64) error {
	return c.WriteLine(CommandSetProgress+" "+formatFloat(fraction), false)
}

// Progress starts a new progress segment of the given size, expected to last seconds.
func (c *Channel) Progress(fraction float64, seconds int) error {
	return c.WriteLine(CommandProgress+" "+formatFloat(fraction)+" "+strconv.Itoa(seconds), false)
}

// Err returns the write failure that broke the channel, if any.
func (c *Channel) Err() error {
	return c.err
}

func (c *Channel) fail(err error) error {
	c.err = fmt.Errorf("%w: %w", ErrChannelWrite, err)

	return c.err
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Lines splits captured channel output into commands.
func Lines(data []byte) []string {
	data = bytes.TrimSuffix(data, []byte("\n"))
	if len(data) == 0 {
		return nil
	}

	return strings.Split(string(data), "\n")
}
