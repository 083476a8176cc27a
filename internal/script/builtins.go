package script

import (
	"context"
	"strings"

	"github.com/oshokin/update-binary/internal/domain/outcome"
	"github.com/oshokin/update-binary/internal/logger"
)

// trueValue is what predicates return for true.
const trueValue = "t"

func standardBuiltins() map[string]Builtin {
	return map[string]Builtin{
		"abort":                abortFn,
		"abort_with_cause":     abortWithCauseFn,
		"assert":               assertFn,
		"concat":               concatFn,
		"ifelse":               ifElseFn,
		"is_retry":             isRetryFn,
		"package_extract_file": packageExtractFileFn,
		"set_cause":            setCauseFn,
		"set_progress":         setProgressFn,
		"show_progress":        showProgressFn,
		"ui_print":             uiPrintFn,
	}
}

// ui_print(text...) shows the concatenated arguments to the operator.
func uiPrintFn(ctx context.Context, call *Call) (string, error) {
	args, err := call.Args(ctx)
	if err != nil {
		return "", err
	}

	message := strings.Join(args, "")

	if err = call.Host().UiPrint(ctx, message); err != nil {
		return "", call.Abort("ui_print failed: " + err.Error())
	}

	return message, nil
}

// concat(text...) joins its arguments.
func concatFn(ctx context.Context, call *Call) (string, error) {
	args, err := call.Args(ctx)
	if err != nil {
		return "", err
	}

	return strings.Join(args, ""), nil
}

// is_retry() is true when the parent re-runs a failed update.
func isRetryFn(_ context.Context, call *Call) (string, error) {
	if err := call.Arity(0, 0); err != nil {
		return "", err
	}

	if call.State().IsRetry {
		return trueValue, nil
	}

	return "", nil
}

// ifelse(cond, then[, else]) evaluates only the selected branch.
func ifElseFn(ctx context.Context, call *Call) (string, error) {
	if err := call.Arity(2, 3); err != nil {
		return "", err
	}

	cond, err := call.Arg(ctx, 0)
	if err != nil {
		return "", err
	}

	switch {
	case cond != "":
		return call.Arg(ctx, 1)
	case call.NArgs() == 3:
		return call.Arg(ctx, 2)
	default:
		return "", nil
	}
}

// assert(expr...) aborts on the first argument evaluating to false.
func assertFn(ctx context.Context, call *Call) (string, error) {
	if err := call.Arity(1, -1); err != nil {
		return "", err
	}

	for i := range call.NArgs() {
		v, err := call.Arg(ctx, i)
		if err != nil {
			return "", err
		}

		if v == "" {
			return "", call.Abort("assert failed: " + call.Expr(i).String())
		}
	}

	return trueValue, nil
}

// abort([text...]) stops the script. Without arguments the message is empty.
func abortFn(ctx context.Context, call *Call) (string, error) {
	args, err := call.Args(ctx)
	if err != nil {
		return "", err
	}

	return "", call.Abort(strings.Join(args, ""))
}

// abort_with_cause(cause, text...) records a cause code and stops the script.
func abortWithCauseFn(ctx context.Context, call *Call) (string, error) {
	if err := call.Arity(1, -1); err != nil {
		return "", err
	}

	cause, err := call.IntArg(ctx, 0)
	if err != nil {
		return "", err
	}

	parts := make([]string, 0, call.NArgs()-1)

	for i := 1; i < call.NArgs(); i++ {
		v, err := call.Arg(ctx, i)
		if err != nil {
			return "", err
		}

		parts = append(parts, v)
	}

	return "", call.AbortWithCause(outcome.CauseCode(cause), "%s", strings.Join(parts, ""))
}

// set_cause(cause) records a cause code without aborting.
func setCauseFn(ctx context.Context, call *Call) (string, error) {
	if err := call.Arity(1, 1); err != nil {
		return "", err
	}

	cause, err := call.IntArg(ctx, 0)
	if err != nil {
		return "", err
	}

	call.State().CauseCode = outcome.CauseCode(cause)
	logger.DebugKV(ctx, "Cause code set by script", "cause", cause)

	return "", nil
}

// set_progress(fraction) moves the progress bar within the current segment.
func setProgressFn(ctx context.Context, call *Call) (string, error) {
	if err := call.Arity(1, 1); err != nil {
		return "", err
	}

	fraction, err := call.FloatArg(ctx, 0)
	if err != nil {
		return "", err
	}

	if err = call.Host().SetProgress(fraction); err != nil {
		return "", call.Abort("set_progress failed: " + err.Error())
	}

	return "", nil
}

// show_progress(fraction, seconds) starts a new progress segment.
func showProgressFn(ctx context.Context, call *Call) (string, error) {
	if err := call.Arity(2, 2); err != nil {
		return "", err
	}

	fraction, err := call.FloatArg(ctx, 0)
	if err != nil {
		return "", err
	}

	seconds, err := call.IntArg(ctx, 1)
	if err != nil {
		return "", err
	}

	if err = call.Host().Progress(fraction, seconds); err != nil {
		return "", call.Abort("show_progress failed: " + err.Error())
	}

	return "", nil
}
