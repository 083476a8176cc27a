package updater

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/oshokin/update-binary/internal/archive"
	"github.com/oshokin/update-binary/internal/channel"
	"github.com/oshokin/update-binary/internal/classify"
	"github.com/oshokin/update-binary/internal/config"
	"github.com/oshokin/update-binary/internal/domain/outcome"
	"github.com/oshokin/update-binary/internal/label"
	"github.com/oshokin/update-binary/internal/logger"
	"github.com/oshokin/update-binary/internal/script"
)

// ErrInvalidPhase is returned when an operation is called out of order.
var ErrInvalidPhase = errors.New("invalid orchestrator phase")

// Engine parses and evaluates update scripts.
type Engine interface {
	Parse(src string) (*script.Program, int, error)
	Evaluate(ctx context.Context, prog *script.Program, state *script.State, host script.Host) outcome.Result
}

// Orchestrator runs a single update attempt. It is not safe for concurrent
// use and is not reusable: create a new one for every attempt.
type Orchestrator struct {
	// engine runs the script.
	engine Engine
	// scriptEntry is the container entry holding the script.
	scriptEntry string

	phase   outcome.Phase
	result  outcome.Result
	channel *channel.Channel
	// pipe closes the descriptor opened by InitFD.
	pipe io.Closer
	pkg  *archive.Package

	script  string
	isRetry bool
	labels  *label.Handle
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithScriptEntry overrides the container entry holding the script.
func WithScriptEntry(name string) Option {
	return func(o *Orchestrator) {
		if name != "" {
			o.scriptEntry = name
		}
	}
}

// New creates an orchestrator in the Uninitialized phase.
func New(engine Engine, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		engine:      engine,
		scriptEntry: config.DefaultScriptEntry,
		phase:       outcome.Uninitialized,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Phase returns the current state of the attempt.
func (o *Orchestrator) Phase() outcome.Phase {
	return o.phase
}

// Outcome returns the result of the attempt. It is meaningful once the
// phase is terminal.
func (o *Orchestrator) Outcome() outcome.Result {
	return o.result
}

// Labels returns the security label handle passed to Init.
func (o *Orchestrator) Labels() *label.Handle {
	return o.labels
}

// Init prepares the attempt: the command channel is built over sink, the
// package is mapped and the script is extracted. On failure the phase stays
// Uninitialized and nothing stays open.
func (o *Orchestrator) Init(ctx context.Context, sink io.Writer, packagePath string, isRetry bool, labels *label.Handle) error {
	if sink == nil {
		logger.Error(ctx, "Failed to open the command pipe")

		return fmt.Errorf("%w: no writer", channel.ErrChannelOpen)
	}

	return o.init(ctx, channel.New(sink), nil, packagePath, isRetry, labels)
}

// InitFD is Init over a numeric descriptor inherited from the parent.
func (o *Orchestrator) InitFD(ctx context.Context, fd uintptr, packagePath string, isRetry bool, labels *label.Handle) error {
	ch, pipe, err := channel.Open(fd)
	if err != nil {
		logger.ErrorKV(ctx, "Failed to open the command pipe", "fd", fd, "error", err)

		return err
	}

	if err = o.init(ctx, ch, pipe, packagePath, isRetry, labels); err != nil {
		_ = pipe.Close()

		return err
	}

	return nil
}

func (o *Orchestrator) init(
	ctx context.Context,
	ch *channel.Channel,
	pipe io.Closer,
	packagePath string,
	isRetry bool,
	labels *label.Handle,
) error {
	if o.phase != outcome.Uninitialized {
		return fmt.Errorf("%w: init in phase %s", ErrInvalidPhase, o.phase)
	}

	pkg, err := archive.Open(packagePath)
	if err != nil {
		logger.ErrorKV(ctx, "Failed to open package", "path", packagePath, "error", err)

		return err
	}

	data, err := pkg.ExtractEntry(o.scriptEntry)
	if err != nil {
		logger.ErrorKV(ctx, "Failed to read script from package",
			"path", packagePath, "entry", o.scriptEntry, "error", err)

		_ = pkg.Close()

		return err
	}

	if labels == nil {
		if err = ch.UiPrintLine("Warning: No file_contexts"); err != nil {
			_ = pkg.Close()

			return err
		}
	}

	o.channel = ch
	o.pipe = pipe
	o.pkg = pkg
	o.script = string(data)
	o.isRetry = isRetry
	o.labels = labels
	o.phase = outcome.Initialized

	logger.InfoKV(ctx, "Update package opened",
		"path", packagePath, "bytes", pkg.Size(), "entries", len(pkg.Entries()), "retry", isRetry)

	return nil
}

// RunUpdate parses and evaluates the script and reports the outcome on the
// command channel. The boolean is true when the script succeeded. A non-nil
// error means the attempt could not be reported: either the orchestrator was
// not initialized or the command channel broke.
func (o *Orchestrator) RunUpdate(ctx context.Context) (bool, error) {
	if o.phase != outcome.Initialized {
		return false, fmt.Errorf("%w: run in phase %s", ErrInvalidPhase, o.phase)
	}

	prog, errorCount, err := o.engine.Parse(o.script)
	if err != nil || errorCount > 0 {
		logger.ErrorKV(ctx, "Failed to parse update script", "parse_errors", errorCount, "error", err)

		o.phase = outcome.Aborted
		o.result = outcome.Abort("", outcome.ScriptExecutionFailure, outcome.NoCause)

		return false, nil
	}

	state := script.NewState(o.script, o.isRetry)
	o.phase = outcome.Running

	result := o.engine.Evaluate(ctx, prog, state, &host{channel: o.channel, pkg: o.pkg, labels: o.labels})
	if result.Success {
		o.phase = outcome.Succeeded
		o.result = result

		return true, o.reportSuccess(ctx, result)
	}

	o.phase = outcome.Aborted
	o.result = o.reportError(ctx, result)

	return false, o.channel.Err()
}

// reportSuccess emits the success line, and the cause code when a script
// produced no value but recorded one.
func (o *Orchestrator) reportSuccess(ctx context.Context, result outcome.Result) error {
	logger.InfoKV(ctx, "Script succeeded", "result", result.Value)

	_ = o.channel.UiPrintLine("script succeeded: result was [" + result.Value + "]")

	if result.Value == "" && result.CauseCode.IsSet() {
		_ = o.channel.LogCause(result.CauseCode)
	}

	return o.channel.Err()
}

// reportError surfaces the abort message, settles the error code and tells
// the parent whether a retry may help. It returns the final result.
func (o *Orchestrator) reportError(ctx context.Context, result outcome.Result) outcome.Result {
	code := result.ErrorCode

	if result.ErrorMessage == "" {
		logger.Error(ctx, "script aborted (no error message)")

		_ = o.channel.UiPrintLine("script aborted (no error message)")
	} else {
		logger.Errorf(ctx, "script aborted: %s", result.ErrorMessage)

		code = classify.Classify(ctx, result.ErrorMessage, code)

		for line := range strings.SplitSeq(result.ErrorMessage, "\n") {
			_ = o.channel.UiPrintLine(line)
		}
	}

	if !code.IsSet() {
		code = outcome.ScriptExecutionFailure
	}

	_ = o.channel.LogError(code)

	if result.CauseCode.IsSet() {
		_ = o.channel.LogCause(result.CauseCode)

		if classify.ShouldRetry(result.CauseCode) {
			logger.InfoKV(ctx, "Update failed with a retryable cause, retry update", "cause", result.CauseCode)

			_ = o.channel.RetryUpdate()
		}
	}

	return result.WithErrorCode(code)
}

// Close flushes the command channel and releases the package. It is safe
// to call more than once.
func (o *Orchestrator) Close() error {
	var errs []error

	if o.channel != nil {
		if err := o.channel.Flush(); err != nil {
			errs = append(errs, err)
		}
	}

	if o.pkg != nil {
		if err := o.pkg.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if o.pipe != nil {
		if err := o.pipe.Close(); err != nil {
			errs = append(errs, err)
		}

		o.pipe = nil
	}

	return errors.Join(errs...)
}
