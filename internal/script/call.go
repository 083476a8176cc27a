package script

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/oshokin/update-binary/internal/domain/outcome"
)

// Call is a function invocation handed to a Builtin. Arguments are
// evaluated on demand so builtins like ifelse can skip branches.
type Call struct {
	expr *Expr
	ev   *evaluator
}

// Name returns the called function name.
func (c *Call) Name() string {
	return c.expr.Name
}

// NArgs returns the number of arguments.
func (c *Call) NArgs() int {
	return len(c.expr.Args)
}

// Expr returns the unevaluated argument i.
func (c *Call) Expr(i int) *Expr {
	return c.expr.Args[i]
}

// Arg evaluates argument i.
func (c *Call) Arg(ctx context.Context, i int) (string, error) {
	return c.ev.eval(ctx, c.expr.Args[i])
}

// Args evaluates all arguments left to right.
func (c *Call) Args(ctx context.Context) ([]string, error) {
	values := make([]string, 0, len(c.expr.Args))

	for _, arg := range c.expr.Args {
		v, err := c.ev.eval(ctx, arg)
		if err != nil {
			return nil, err
		}

		values = append(values, v)
	}

	return values, nil
}

// IntArg evaluates argument i as an integer.
func (c *Call) IntArg(ctx context.Context, i int) (int, error) {
	v, err := c.Arg(ctx, i)
	if err != nil {
		return 0, err
	}

	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, c.ArgsError("argument %d: %q is not an integer", i+1, v)
	}

	return n, nil
}

// FloatArg evaluates argument i as a number.
func (c *Call) FloatArg(ctx context.Context, i int) (float64, error) {
	v, err := c.Arg(ctx, i)
	if err != nil {
		return 0, err
	}

	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, c.ArgsError("argument %d: %q is not a number", i+1, v)
	}

	return f, nil
}

// State returns the execution context.
func (c *Call) State() *State {
	return c.ev.state
}

// Host returns what the script acts on.
func (c *Call) Host() Host {
	return c.ev.host
}

// Abort stops the script with message and no cause change.
func (c *Call) Abort(message string) error {
	return &AbortError{Message: message}
}

// AbortWithCause records cause and stops the script.
func (c *Call) AbortWithCause(cause outcome.CauseCode, format string, args ...any) error {
	c.ev.state.CauseCode = cause

	return &AbortError{Message: fmt.Sprintf(format, args...)}
}

// ArgsError aborts with an argument parsing failure attributed to this function.
func (c *Call) ArgsError(format string, args ...any) error {
	return c.AbortWithCause(outcome.ArgsParsingFailure, "%s() %s", c.expr.Name, fmt.Sprintf(format, args...))
}

// Arity checks the argument count. A negative maxArgs means unbounded.
func (c *Call) Arity(minArgs, maxArgs int) error {
	n := c.NArgs()
	if n < minArgs || (maxArgs >= 0 && n > maxArgs) {
		switch {
		case minArgs == maxArgs:
			return c.ArgsError("expects %d arguments, got %d", minArgs, n)
		case maxArgs < 0:
			return c.ArgsError("expects at least %d arguments, got %d", minArgs, n)
		default:
			return c.ArgsError("expects %d to %d arguments, got %d", minArgs, maxArgs, n)
		}
	}

	return nil
}
