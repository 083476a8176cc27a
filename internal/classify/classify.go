package classify

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/oshokin/update-binary/internal/domain/outcome"
	"github.com/oshokin/update-binary/internal/logger"
)

// codeLine matches "E<digits>:" at the start of a line. Anything after the
// colon is free text.
var codeLine = regexp.MustCompile(`^E([0-9]+):`)

// ExtractErrorCode scans message line by line for an embedded error code.
// The last line that matches wins. Lines starting with 'E' that do not match
// are logged and ignored. ok is false when no line matched.
func ExtractErrorCode(ctx context.Context, message string) (outcome.ErrorCode, bool) {
	var (
		code  = outcome.NoError
		found bool
	)

	for line := range strings.SplitSeq(message, "\n") {
		if !strings.HasPrefix(line, "E") {
			continue
		}

		parsed, ok := parseCodeLine(line)
		if !ok {
			logger.Warnf(ctx, "Failed to parse error code: [%s]", line)
			continue
		}

		code, found = parsed, true
	}

	return code, found
}

// Classify applies ExtractErrorCode on top of prior: a code found in the
// message replaces prior, otherwise prior is kept.
func Classify(ctx context.Context, message string, prior outcome.ErrorCode) outcome.ErrorCode {
	if code, ok := ExtractErrorCode(ctx, message); ok {
		return code
	}

	return prior
}

// ShouldRetry reports whether the parent should re-attempt the update
// automatically after an abort with the given cause.
func ShouldRetry(cause outcome.CauseCode) bool {
	switch cause {
	case outcome.PatchApplicationFailure, outcome.EioFailure:
		return true
	default:
		return false
	}
}

func parseCodeLine(line string) (outcome.ErrorCode, bool) {
	match := codeLine.FindStringSubmatch(line)
	if match == nil {
		return outcome.NoError, false
	}

	// Digits only, so the sole failure mode is overflow.
	n, err := strconv.ParseInt(match[1], 10, 32)
	if err != nil {
		return outcome.NoError, false
	}

	return outcome.ErrorCode(n), true
}
