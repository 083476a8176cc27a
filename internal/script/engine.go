package script

import (
	"context"
	"errors"
	"io"
	"sort"

	"github.com/oshokin/update-binary/internal/domain/outcome"
	"github.com/oshokin/update-binary/internal/label"
	"github.com/oshokin/update-binary/internal/manifest"
)

// Container gives builtins access to the update package.
type Container interface {
	Has(name string) bool
	ExtractEntry(name string) ([]byte, error)
	OpenEntry(name string) (io.ReadCloser, int64, error)
}

// Host is what a running script can act on.
type Host interface {
	UiPrint(ctx context.Context, message string) error //nolint:revive // Protocol name.
	SetProgress(fraction float64) error
	Progress(fraction float64, seconds int) error
	Container() Container
	// Labels may be nil when no file contexts were loaded.
	Labels() *label.Handle
}

// State is the mutable execution context of one evaluation.
// A fresh State is created for every update attempt.
type State struct {
	// Script is the source being evaluated.
	Script string
	// IsRetry is set when the parent re-runs a failed update.
	IsRetry bool
	// ErrorCode is an explicit error code set during evaluation.
	ErrorCode outcome.ErrorCode
	// CauseCode explains an abort, or a noteworthy condition on success.
	CauseCode outcome.CauseCode
	// ErrorMessage accumulates abort messages.
	ErrorMessage string
}

// NewState seeds an execution context for one attempt.
func NewState(script string, isRetry bool) *State {
	return &State{
		Script:    script,
		IsRetry:   isRetry,
		ErrorCode: outcome.NoError,
		CauseCode: outcome.NoCause,
	}
}

// Builtin implements a script function.
type Builtin func(ctx context.Context, call *Call) (string, error)

// Engine parses and evaluates update scripts.
type Engine struct {
	// builtins maps function names to implementations.
	builtins map[string]Builtin
	// manifestEntry is the container entry holding payload checksums.
	manifestEntry string
}

// Option configures an Engine.
type Option func(*Engine)

// WithBuiltin registers or replaces a function.
func WithBuiltin(name string, fn Builtin) Option {
	return func(e *Engine) {
		e.builtins[name] = fn
	}
}

// WithManifestEntry sets where package_extract_file looks for checksums.
func WithManifestEntry(name string) Option {
	return func(e *Engine) {
		if name != "" {
			e.manifestEntry = name
		}
	}
}

// defaultManifestEntry matches config.DefaultManifestEntry.
const defaultManifestEntry = "META-INF/com/android/manifest.yaml"

// New creates an engine with the standard builtins.
func New(opts ...Option) *Engine {
	e := &Engine{
		builtins:      standardBuiltins(),
		manifestEntry: defaultManifestEntry,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Functions lists the registered function names, sorted.
func (e *Engine) Functions() []string {
	names := make([]string, 0, len(e.builtins))
	for name := range e.builtins {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Parse parses src. The count is the number of syntax errors; when it is
// positive the error wraps ErrParse.
func (e *Engine) Parse(src string) (*Program, int, error) {
	return parse(src, func(name string) bool {
		_, ok := e.builtins[name]

		return ok
	})
}

// Evaluate runs prog against state and returns the outcome. The state is
// updated in place; the returned Result is a snapshot of it.
func (e *Engine) Evaluate(ctx context.Context, prog *Program, state *State, host Host) outcome.Result {
	ev := &evaluator{
		engine: e,
		state:  state,
		host:   host,
	}

	var value string

	for _, stmt := range prog.Statements {
		v, err := ev.eval(ctx, stmt)
		if err != nil {
			var abort *AbortError
			if !errors.As(err, &abort) {
				abort = &AbortError{Message: err.Error()}
			}

			state.ErrorMessage += abort.Message

			return outcome.Abort(state.ErrorMessage, state.ErrorCode, state.CauseCode)
		}

		value = v
	}

	return outcome.Succeed(value, state.CauseCode)
}

// AbortError stops evaluation. Message may be empty.
type AbortError struct {
	Message string
}

func (e *AbortError) Error() string {
	if e.Message == "" {
		return "script aborted"
	}

	return e.Message
}

// evaluator carries per-evaluation state.
type evaluator struct {
	engine *Engine
	state  *State
	host   Host

	// manifest is loaded on first use; manifestLoaded is set even when
	// the package has none.
	manifest       *manifest.Manifest
	manifestLoaded bool
}

func (ev *evaluator) eval(ctx context.Context, expr *Expr) (string, error) {
	if !expr.IsCall {
		return expr.Value, nil
	}

	fn, ok := ev.engine.builtins[expr.Name]
	if !ok {
		// Parse rejects unknown names; this guards hand-built programs.
		return "", &AbortError{Message: "unknown function " + expr.Name}
	}

	return fn(ctx, &Call{expr: expr, ev: ev})
}

// loadManifest returns the package manifest, or nil when the package has none.
func (ev *evaluator) loadManifest() (*manifest.Manifest, error) {
	if ev.manifestLoaded {
		return ev.manifest, nil
	}

	ev.manifestLoaded = true

	container := ev.host.Container()
	if container == nil || !container.Has(ev.engine.manifestEntry) {
		return nil, nil
	}

	data, err := container.ExtractEntry(ev.engine.manifestEntry)
	if err != nil {
		return nil, err
	}

	m, err := manifest.Parse(data)
	if err != nil {
		return nil, err
	}

	ev.manifest = m

	return m, nil
}
