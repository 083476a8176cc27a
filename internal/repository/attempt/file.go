package attempt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/oshokin/update-binary/internal/config"
	"github.com/oshokin/update-binary/internal/domain/outcome"
)

// Record describes one finished update attempt.
type Record struct {
	// StartedAt is when the attempt began.
	StartedAt time.Time
	// FinishedAt is when the outcome was known.
	FinishedAt time.Time
	// Package is the path of the update package.
	Package string
	// IsRetry is set when the parent re-ran a failed update.
	IsRetry bool
	// Phase is the terminal phase of the attempt.
	Phase outcome.Phase
	// Result is what the script produced.
	Result outcome.Result
	// RetryRequested is set when retry_update was sent to the parent.
	RetryRequested bool
	// Version is the build of the updater that made the attempt.
	Version string
}

// Repository defines persistence operations for attempt records.
type Repository interface {
	Load(ctx context.Context) (*Record, error)
	Save(ctx context.Context, record *Record) error
}

// FileRepository persists the last attempt record to a JSON file on disk.
type FileRepository struct {
	// path is the filesystem location of the record.
	path string
	// mu serializes access to the record file.
	mu sync.Mutex
}

var (
	// ErrNotFound is returned when no attempt has been recorded yet.
	ErrNotFound = errors.New("attempt record not found")
	// errNoRecord is returned when Save is given nil.
	errNoRecord = errors.New("attempt record is not set")
	// errMissingField is returned for records without a required field.
	errMissingField = errors.New("attempt record field missing")
	// errUnfinished is returned when Save is given an attempt that is still in progress.
	errUnfinished = errors.New("attempt has not finished")
)

// Record field names in the JSON document.
const (
	fieldStartedAt      = "started_at"
	fieldFinishedAt     = "finished_at"
	fieldPackage        = "package"
	fieldIsRetry        = "is_retry"
	fieldPhase          = "phase"
	fieldSuccess        = "success"
	fieldValue          = "value"
	fieldErrorMessage   = "error_message"
	fieldErrorCode      = "error_code"
	fieldCauseCode      = "cause_code"
	fieldRetryRequested = "retry_requested"
	fieldVersion        = "version"
)

// NewFileRepository creates a repository that reads and writes JSON at path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Path returns where the record is stored.
func (r *FileRepository) Path() string {
	return r.path
}

// Load reads the last attempt record from disk.
func (r *FileRepository) Load(_ context.Context) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read attempt record: %w", err)
	}

	var doc structpb.Struct
	if err = protojson.Unmarshal(contents, &doc); err != nil {
		return nil, fmt.Errorf("decode attempt record: %w", err)
	}

	record, err := fromProto(&doc)
	if err != nil {
		return nil, fmt.Errorf("decode attempt record: %w", err)
	}

	return record, nil
}

// Save replaces the record on disk.
func (r *FileRepository) Save(_ context.Context, record *Record) error {
	if record == nil {
		return errNoRecord
	}

	if !record.Phase.Terminal() {
		return fmt.Errorf("%w: phase %s", errUnfinished, record.Phase)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := toProto(record)
	if err != nil {
		return fmt.Errorf("encode attempt record: %w", err)
	}

	marshalOptions := protojson.MarshalOptions{
		Multiline:       true,
		EmitUnpopulated: true,
	}

	data, err := marshalOptions.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode attempt record: %w", err)
	}

	if err = os.WriteFile(r.path, data, config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("write attempt record: %w", err)
	}

	return nil
}

// toProto converts a Record into a JSON-mappable protobuf Struct.
func toProto(record *Record) (*structpb.Struct, error) {
	startedAt, err := formatTimestamp(record.StartedAt)
	if err != nil {
		return nil, err
	}

	finishedAt, err := formatTimestamp(record.FinishedAt)
	if err != nil {
		return nil, err
	}

	return structpb.NewStruct(map[string]any{
		fieldStartedAt:      startedAt,
		fieldFinishedAt:     finishedAt,
		fieldPackage:        record.Package,
		fieldIsRetry:        record.IsRetry,
		fieldPhase:          record.Phase.String(),
		fieldSuccess:        record.Result.Success,
		fieldValue:          record.Result.Value,
		fieldErrorMessage:   record.Result.ErrorMessage,
		fieldErrorCode:      int(record.Result.ErrorCode),
		fieldCauseCode:      int(record.Result.CauseCode),
		fieldRetryRequested: record.RetryRequested,
		fieldVersion:        record.Version,
	})
}

// fromProto converts a decoded Struct back into a Record.
func fromProto(doc *structpb.Struct) (*Record, error) {
	fields := doc.GetFields()

	for _, name := range []string{fieldPhase, fieldErrorCode, fieldCauseCode} {
		if _, ok := fields[name]; !ok {
			return nil, fmt.Errorf("%w: %s", errMissingField, name)
		}
	}

	startedAt, err := parseTimestamp(fields[fieldStartedAt].GetStringValue())
	if err != nil {
		return nil, err
	}

	finishedAt, err := parseTimestamp(fields[fieldFinishedAt].GetStringValue())
	if err != nil {
		return nil, err
	}

	return &Record{
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Package:    fields[fieldPackage].GetStringValue(),
		IsRetry:    fields[fieldIsRetry].GetBoolValue(),
		Phase:      parsePhase(fields[fieldPhase].GetStringValue()),
		Result: outcome.Result{
			Success:      fields[fieldSuccess].GetBoolValue(),
			Value:        fields[fieldValue].GetStringValue(),
			ErrorMessage: fields[fieldErrorMessage].GetStringValue(),
			ErrorCode:    outcome.ErrorCode(fields[fieldErrorCode].GetNumberValue()),
			CauseCode:    outcome.CauseCode(fields[fieldCauseCode].GetNumberValue()),
		},
		RetryRequested: fields[fieldRetryRequested].GetBoolValue(),
		Version:        fields[fieldVersion].GetStringValue(),
	}, nil
}

// formatTimestamp renders t the way protobuf maps google.protobuf.Timestamp
// to JSON. The zero time is stored as an empty string.
func formatTimestamp(t time.Time) (string, error) {
	if t.IsZero() {
		return "", nil
	}

	data, err := protojson.Marshal(timestamppb.New(t))
	if err != nil {
		return "", err
	}

	return strconv.Unquote(string(data))
}

func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}

	var ts timestamppb.Timestamp
	if err := protojson.Unmarshal([]byte(strconv.Quote(s)), &ts); err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}

	return ts.AsTime(), nil
}

func parsePhase(s string) outcome.Phase {
	for _, phase := range []outcome.Phase{
		outcome.Uninitialized,
		outcome.Initialized,
		outcome.Running,
		outcome.Succeeded,
		outcome.Aborted,
	} {
		if phase.String() == s {
			return phase
		}
	}

	return outcome.Uninitialized
}
