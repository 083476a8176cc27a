package outcome

import "strconv"

// ErrorCode is the terminal error reported with "log error:".
type ErrorCode int

// Error codes understood by the recovery parent.
const (
	NoError                     ErrorCode = -1
	LowBattery                  ErrorCode = 20
	ZipVerificationFailure      ErrorCode = 21
	ZipOpenFailure              ErrorCode = 22
	BootreasonInBlacklist       ErrorCode = 23
	PackageCompatibilityFailure ErrorCode = 24
	ScriptExecutionFailure      ErrorCode = 25
	MapFileFailure              ErrorCode = 26
	ForkUpdateBinaryFailure     ErrorCode = 27
	UpdateBinaryCommandFailure  ErrorCode = 28
)

// IsSet reports whether the code carries an actual error.
func (c ErrorCode) IsSet() bool {
	return c != NoError
}

// String renders the numeric value used on the wire.
func (c ErrorCode) String() string {
	return strconv.Itoa(int(c))
}

// CauseCode explains why an abort happened.
type CauseCode int

// Cause codes understood by the recovery parent.
const (
	NoCause                    CauseCode = -1
	ArgsParsingFailure         CauseCode = 100
	StashCreationFailure       CauseCode = 101
	FileOpenFailure            CauseCode = 102
	LseekFailure               CauseCode = 103
	FreadFailure               CauseCode = 104
	FwriteFailure              CauseCode = 105
	FsyncFailure               CauseCode = 106
	LibfecFailure              CauseCode = 107
	FileGetPropFailure         CauseCode = 108
	FileRenameFailure          CauseCode = 109
	SymlinkFailure             CauseCode = 110
	SetMetadataFailure         CauseCode = 111
	Tune2FsFailure             CauseCode = 112
	RebootFailure              CauseCode = 113
	PackageExtractFileFailure  CauseCode = 114
	PatchApplicationFailure    CauseCode = 200
	HashTreeComputationFailure CauseCode = 201
	EioFailure                 CauseCode = 300
)

// IsSet reports whether the code carries an actual cause.
func (c CauseCode) IsSet() bool {
	return c != NoCause
}

// String renders the numeric value used on the wire.
func (c CauseCode) String() string {
	return strconv.Itoa(int(c))
}
