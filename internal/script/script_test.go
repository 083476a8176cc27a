package script

import (
	"bytes"
	"context"
	"crypto/sha512"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/update-binary/internal/domain/outcome"
	"github.com/oshokin/update-binary/internal/label"
	"github.com/oshokin/update-binary/internal/manifest"
)

var errTestChannel = errors.New("broken pipe")

// memContainer is an in-memory Container.
type memContainer map[string][]byte

func (m memContainer) Has(name string) bool {
	_, ok := m[name]

	return ok
}

func (m memContainer) ExtractEntry(name string) ([]byte, error) {
	data, ok := m[name]
	if !ok {
		return nil, fmt.Errorf("entry not found: %s", name)
	}

	return bytes.Clone(data), nil
}

func (m memContainer) OpenEntry(name string) (io.ReadCloser, int64, error) {
	data, ok := m[name]
	if !ok {
		return nil, 0, fmt.Errorf("entry not found: %s", name)
	}

	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

// fakeHost records everything a script sends to the operator.
type fakeHost struct {
	prints     []string
	progress   []string
	container  Container
	failWrites bool
}

func (h *fakeHost) UiPrint(_ context.Context, message string) error {
	if h.failWrites {
		return errTestChannel
	}

	h.prints = append(h.prints, message)

	return nil
}

func (h *fakeHost) SetProgress(fraction float64) error {
	h.progress = append(h.progress, fmt.Sprintf("set %v", fraction))

	return nil
}

func (h *fakeHost) Progress(fraction float64, seconds int) error {
	h.progress = append(h.progress, fmt.Sprintf("show %v %d", fraction, seconds))

	return nil
}

func (h *fakeHost) Container() Container {
	return h.container
}

func (h *fakeHost) Labels() *label.Handle {
	return nil
}

// run parses and evaluates src with a fresh state.
func run(t *testing.T, src string, host *fakeHost, isRetry bool) (outcome.Result, *State) {
	t.Helper()

	engine := New()

	prog, count, err := engine.Parse(src)
	require.NoError(t, err)
	require.Zero(t, count)

	state := NewState(src, isRetry)

	return engine.Evaluate(context.Background(), prog, state, host), state
}

// TestParse_Errors counts syntax errors and keeps parsing after each one.
func TestParse_Errors(t *testing.T) {
	t.Parallel()

	engine := New()

	cases := map[string]int{
		`ui_print("a")`:                  0,
		`ui_print("a");; concat(1, b);`:  0,
		`# only a comment`:               0,
		`ui_print("a"`:                   1,
		`ui_print("unterminated);`:       1,
		`no_such_fn(); ui_print("x");`:   1,
		`ui_print("a") ui_print("b");`:   1,
		`ui_print(,); abort(; concat();`: 2,
		`ui_print("a"); @; abort();`:     1,
	}

	for src, want := range cases {
		_, count, err := engine.Parse(src)
		require.Equal(t, want, count, src)

		if want == 0 {
			require.NoError(t, err, src)
		} else {
			require.ErrorIs(t, err, ErrParse, src)
		}
	}
}

// TestExprString renders parsed calls back to script text.
func TestExprString(t *testing.T) {
	t.Parallel()

	prog, count, err := New().Parse(`assert(concat("a\n", b, 12), is_retry());`)
	require.NoError(t, err)
	require.Zero(t, count)
	require.Len(t, prog.Statements, 1)
	require.Equal(t, `assert(concat("a\n", b, 12), is_retry())`, prog.Statements[0].String())
}

// TestEvaluate_Success returns the value of the last statement and forwards prints and progress.
func TestEvaluate_Success(t *testing.T) {
	t.Parallel()

	host := new(fakeHost)
	src := `
		show_progress(0.5, 10);
		ui_print("Installing ", "update");
		set_progress(0.25);
		ifelse(is_retry(), "retry", concat("first", " ", "run"));
	`

	result, _ := run(t, src, host, false)
	require.True(t, result.Success)
	require.Equal(t, "first run", result.Value)
	require.Equal(t, outcome.NoCause, result.CauseCode)
	require.Equal(t, []string{"Installing update"}, host.prints)
	require.Equal(t, []string{"show 0.5 10", "set 0.25"}, host.progress)

	result, _ = run(t, `ifelse(is_retry(), "retry", "first");`, new(fakeHost), true)
	require.Equal(t, "retry", result.Value)

	result, _ = run(t, `ifelse("", "yes");`, new(fakeHost), false)
	require.True(t, result.Success)
	require.Empty(t, result.Value)
}

// TestEvaluate_SetCauseOnSuccess keeps a cause code set by a script that does not abort.
func TestEvaluate_SetCauseOnSuccess(t *testing.T) {
	t.Parallel()

	result, _ := run(t, `set_cause(114);`, new(fakeHost), false)
	require.True(t, result.Success)
	require.Empty(t, result.Value)
	require.Equal(t, outcome.PackageExtractFileFailure, result.CauseCode)
}

// TestEvaluate_Aborts covers abort, abort_with_cause, assert and argument errors.
func TestEvaluate_Aborts(t *testing.T) {
	t.Parallel()

	cases := []struct {
		src     string
		message string
		cause   outcome.CauseCode
	}{
		{src: `abort();`, message: "", cause: outcome.NoCause},
		{src: `abort("E30: This package is for ", "bullhead devices.");`, message: "E30: This package is for bullhead devices.", cause: outcome.NoCause},
		{src: `abort_with_cause(300, "read failed");`, message: "read failed", cause: outcome.EioFailure},
		{src: `assert("t", is_retry());`, message: "assert failed: is_retry()", cause: outcome.NoCause},
		{src: `set_progress(half);`, message: `set_progress() argument 1: "half" is not a number`, cause: outcome.ArgsParsingFailure},
		{src: `is_retry(1);`, message: "is_retry() expects 0 arguments, got 1", cause: outcome.ArgsParsingFailure},
		{src: `ifelse(1);`, message: "ifelse() expects 2 to 3 arguments, got 1", cause: outcome.ArgsParsingFailure},
		{src: `assert();`, message: "assert() expects at least 1 arguments, got 0", cause: outcome.ArgsParsingFailure},
	}

	for _, tc := range cases {
		result, state := run(t, tc.src, new(fakeHost), false)
		require.False(t, result.Success, tc.src)
		require.Equal(t, tc.message, result.ErrorMessage, tc.src)
		require.Equal(t, tc.cause, result.CauseCode, tc.src)
		require.Equal(t, outcome.NoError, result.ErrorCode, tc.src)
		require.Equal(t, tc.message, state.ErrorMessage, tc.src)
	}
}

// TestEvaluate_StopsAtAbort ensures statements after an abort do not run.
func TestEvaluate_StopsAtAbort(t *testing.T) {
	t.Parallel()

	host := new(fakeHost)

	result, _ := run(t, `ui_print("before"); abort("stop"); ui_print("after");`, host, false)
	require.False(t, result.Success)
	require.Equal(t, []string{"before"}, host.prints)
}

// TestEvaluate_UiPrintFailure aborts when the host cannot deliver the message.
func TestEvaluate_UiPrintFailure(t *testing.T) {
	t.Parallel()

	result, _ := run(t, `ui_print("x");`, &fakeHost{failWrites: true}, false)
	require.False(t, result.Success)
	require.Contains(t, result.ErrorMessage, "broken pipe")
}

// TestWithBuiltin registers a custom function.
func TestWithBuiltin(t *testing.T) {
	t.Parallel()

	engine := New(WithBuiltin("getprop", func(ctx context.Context, call *Call) (string, error) {
		if err := call.Arity(1, 1); err != nil {
			return "", err
		}

		name, err := call.Arg(ctx, 0)
		if err != nil {
			return "", err
		}

		return map[string]string{"ro.product.device": "bullhead"}[name], nil
	}))
	require.Contains(t, engine.Functions(), "getprop")

	prog, count, err := engine.Parse(`assert(getprop("ro.product.device"));`)
	require.NoError(t, err)
	require.Zero(t, count)

	result := engine.Evaluate(context.Background(), prog, NewState("", false), new(fakeHost))
	require.True(t, result.Success)
	require.Equal(t, "t", result.Value)
}

// TestPackageExtractFile writes entries atomically and verifies manifest checksums.
func TestPackageExtractFile(t *testing.T) {
	t.Parallel()

	payload := []byte("127.0.0.1 localhost\n")
	sum := sha512.Sum512(payload)

	m := manifest.New()
	m.Add("system/etc/hosts", sum[:])
	m.Add("system/etc/tampered", sum[:])

	manifestData, err := m.Marshal()
	require.NoError(t, err)

	container := memContainer{
		defaultManifestEntry:  manifestData,
		"system/etc/hosts":    payload,
		"system/etc/tampered": []byte("evil\n"),
		"system/etc/unlisted": []byte("free\n"),
	}

	dir := t.TempDir()
	target := filepath.Join(dir, "system", "etc", "hosts")

	result, _ := run(t, fmt.Sprintf(`package_extract_file("system/etc/hosts", %q);`, target), &fakeHost{container: container}, false)
	require.True(t, result.Success, result.ErrorMessage)
	require.Equal(t, "t", result.Value)

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, payload, got)

	unlisted := filepath.Join(dir, "unlisted")
	result, _ = run(t, fmt.Sprintf(`package_extract_file("system/etc/unlisted", %q);`, unlisted), &fakeHost{container: container}, false)
	require.True(t, result.Success, result.ErrorMessage)

	tampered := filepath.Join(dir, "new", "sub", "bin")
	result, _ = run(t, fmt.Sprintf(`package_extract_file("system/etc/tampered", %q);`, tampered), &fakeHost{container: container}, false)
	require.False(t, result.Success)
	require.Equal(t, outcome.PackageExtractFileFailure, result.CauseCode)
	require.Contains(t, result.ErrorMessage, "checksum mismatch")

	_, err = os.Stat(tampered)
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = os.Stat(filepath.Join(dir, "new"))
	require.ErrorIs(t, err, os.ErrNotExist)

	result, _ = run(t, fmt.Sprintf(`package_extract_file("system/etc/missing", %q);`, tampered), &fakeHost{container: container}, false)
	require.False(t, result.Success)
	require.Equal(t, outcome.PackageExtractFileFailure, result.CauseCode)

	result, _ = run(t, `package_extract_file("a", "b");`, new(fakeHost), false)
	require.False(t, result.Success)
	require.Contains(t, result.ErrorMessage, "no package is open")
}

// TestEnsureTarget_RemoveCreated undoes only the file and directories ensureTarget made.
func TestEnsureTarget_RemoveCreated(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	target := filepath.Join(dir, "new", "sub", "bin")

	created, err := ensureTarget(target)
	require.NoError(t, err)
	require.Equal(t, []string{target, filepath.Join(dir, "new", "sub"), filepath.Join(dir, "new")}, created)

	info, err := os.Stat(target)
	require.NoError(t, err)
	require.Zero(t, info.Size())

	removeCreated(created)

	_, err = os.Stat(filepath.Join(dir, "new"))
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = os.Stat(dir)
	require.NoError(t, err)

	existing := filepath.Join(dir, "existing")
	require.NoError(t, os.WriteFile(existing, []byte("old"), 0o644))

	created, err = ensureTarget(existing)
	require.NoError(t, err)
	require.Empty(t, created)
}

// TestIoCause maps EIO to the retryable cause.
func TestIoCause(t *testing.T) {
	t.Parallel()

	eio := &os.PathError{Op: "write", Path: "/system/bin/x", Err: errors.New("other")}
	require.Equal(t, outcome.PackageExtractFileFailure, ioCause(eio))

	eio.Err = syscall.EIO
	require.Equal(t, outcome.EioFailure, ioCause(eio))
}
