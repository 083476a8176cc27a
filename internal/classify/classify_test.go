package classify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/oshokin/update-binary/internal/domain/outcome"
	"github.com/oshokin/update-binary/internal/logger"
)

// TestExtractErrorCode covers matching, precedence and malformed lines.
func TestExtractErrorCode(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		message string
		want    outcome.ErrorCode
		found   bool
	}{
		{name: "single", message: "E42: out of space", want: 42, found: true},
		{name: "among other lines", message: "installing\nE30: This package is for bullhead devices.\ndone", want: 30, found: true},
		{name: "last wins", message: "E21: first\nE24: second", want: 24, found: true},
		{name: "malformed keeps previous", message: "E21: first\nError: disk full", want: 21, found: true},
		{name: "no colon", message: "E42 out of space", want: outcome.NoError},
		{name: "no digits", message: "E: nothing", want: outcome.NoError},
		{name: "negative", message: "E-5: nope", want: outcome.NoError},
		{name: "overflow", message: "E99999999999: huge", want: outcome.NoError},
		{name: "leading space", message: " E42: indented", want: outcome.NoError},
		{name: "no E lines", message: "assert failed: getprop(\"ro.product.device\") == \"x\"", want: outcome.NoError},
		{name: "empty", message: "", want: outcome.NoError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, found := ExtractErrorCode(context.Background(), tc.message)
			require.Equal(t, tc.want, got)
			require.Equal(t, tc.found, found)
		})
	}
}

// TestExtractErrorCode_LogsMalformed ensures malformed 'E' lines produce a warning.
func TestExtractErrorCode_LogsMalformed(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.WarnLevel)
	ctx := logger.ToContext(context.Background(), zap.New(core).Sugar())

	_, found := ExtractErrorCode(ctx, "Eek: not a code\nplain line")
	require.False(t, found)
	require.Equal(t, 1, logs.Len())
	require.Contains(t, logs.All()[0].Message, "[Eek: not a code]")
}

// TestClassify keeps the prior code unless the message overrides it.
func TestClassify(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	require.Equal(t, outcome.ErrorCode(42), Classify(ctx, "E42: out of space", outcome.NoError))
	require.Equal(t, outcome.LowBattery, Classify(ctx, "Eh: what", outcome.LowBattery))
	require.Equal(t, outcome.ErrorCode(7), Classify(ctx, "E7: x", outcome.LowBattery))
}

// TestShouldRetry asserts that only patch and I/O failures are retried.
func TestShouldRetry(t *testing.T) {
	t.Parallel()

	require.True(t, ShouldRetry(outcome.PatchApplicationFailure))
	require.True(t, ShouldRetry(outcome.EioFailure))

	for _, cause := range []outcome.CauseCode{
		outcome.NoCause,
		outcome.ArgsParsingFailure,
		outcome.PackageExtractFileFailure,
		outcome.HashTreeComputationFailure,
		outcome.FwriteFailure,
	} {
		require.False(t, ShouldRetry(cause), cause.String())
	}
}
