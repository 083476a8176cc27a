package outcome

// Phase is a step of the update attempt state machine.
type Phase int

// Phases in the order an attempt moves through them.
// Succeeded and Aborted are terminal.
const (
	Uninitialized Phase = iota
	Initialized
	Running
	Succeeded
	Aborted
)

// String returns the lowercase phase name used in logs and records.
func (p Phase) String() string {
	switch p {
	case Uninitialized:
		return "uninitialized"
	case Initialized:
		return "initialized"
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (p Phase) Terminal() bool {
	return p == Succeeded || p == Aborted
}

// Result is what a script engine hands back after evaluating a script.
// It is a value: the engine never shares it with later attempts.
type Result struct {
	// Success is false when the script aborted.
	Success bool
	// Value is the string the script evaluated to.
	Value string
	// ErrorMessage is the abort message, empty on success.
	ErrorMessage string
	// ErrorCode is set by the script or later by the classifier.
	ErrorCode ErrorCode
	// CauseCode explains the abort, or a noteworthy condition on success.
	CauseCode CauseCode
}

// Succeed builds a successful result.
func Succeed(value string, cause CauseCode) Result {
	return Result{
		Success:   true,
		Value:     value,
		ErrorCode: NoError,
		CauseCode: cause,
	}
}

// Abort builds a failed result.
func Abort(message string, code ErrorCode, cause CauseCode) Result {
	return Result{
		Success:      false,
		ErrorMessage: message,
		ErrorCode:    code,
		CauseCode:    cause,
	}
}

// WithErrorCode returns a copy of r carrying the given error code.
func (r Result) WithErrorCode(code ErrorCode) Result {
	r.ErrorCode = code

	return r
}
