package packager

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/oshokin/update-binary/internal/config"
	"github.com/oshokin/update-binary/internal/logger"
	"github.com/oshokin/update-binary/internal/manifest"
	"github.com/oshokin/update-binary/internal/script"
)

// Options contains inputs for the packager entry point.
type Options struct {
	// ConfigPath is an optional settings file naming the script and manifest entries.
	ConfigPath string
	// ScriptPath is the update script to pack.
	ScriptPath string
	// OutputPath is where the package is written.
	OutputPath string
	// Payloads are files to pack, as "entry=path", or "path" to pack
	// under the base name.
	Payloads []string
}

// payload is a file to pack under a container entry.
type payload struct {
	entry string
	path  string
}

// packageFileMode is the mode of written packages.
const packageFileMode os.FileMode = 0o644

var (
	errNoScript       = errors.New("script path is required")
	errNoOutput       = errors.New("output path is required")
	errDuplicateEntry = errors.New("duplicate package entry")
	errInvalidScript  = errors.New("update script does not parse")
)

// Run builds a package and logs what was packed.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "update-packager")

	entries, err := Build(ctx, opts)
	if err != nil {
		return fmt.Errorf("packager failed: %w", err)
	}

	printNextSteps(ctx, opts.OutputPath, entries)

	return nil
}

// Build writes the package described by opts and returns its sorted entry names.
// The output appears atomically: a failed build leaves no partial package.
func Build(ctx context.Context, opts *Options) ([]string, error) {
	switch {
	case opts.ScriptPath == "":
		return nil, errNoScript
	case opts.OutputPath == "":
		return nil, errNoOutput
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	src, err := os.ReadFile(filepath.Clean(opts.ScriptPath))
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}

	if _, count, parseErr := script.New().Parse(string(src)); parseErr != nil {
		return nil, fmt.Errorf("%w: %d syntax errors: %w", errInvalidScript, count, parseErr)
	}

	payloads, err := parsePayloads(opts.Payloads, cfg.ScriptEntry, cfg.ManifestEntry)
	if err != nil {
		return nil, err
	}

	output := filepath.Clean(opts.OutputPath)

	tmp, err := os.CreateTemp(filepath.Dir(output), "."+filepath.Base(output)+"-*")
	if err != nil {
		return nil, fmt.Errorf("create package: %w", err)
	}

	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	entries, err := writePackage(ctx, tmp, cfg, src, payloads)
	if closeErr := tmp.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("close package: %w", closeErr)
	}

	if err != nil {
		return nil, err
	}

	if err = os.Chmod(tmp.Name(), packageFileMode); err != nil {
		return nil, fmt.Errorf("chmod package: %w", err)
	}

	if err = os.Rename(tmp.Name(), output); err != nil {
		return nil, fmt.Errorf("move package into place: %w", err)
	}

	return entries, nil
}

// parsePayloads resolves entry names and rejects clashes with the
// well-known entries and with each other.
func parsePayloads(args []string, reserved ...string) ([]payload, error) {
	seen := make(map[string]struct{}, len(args)+len(reserved))
	for _, name := range reserved {
		seen[name] = struct{}{}
	}

	result := make([]payload, 0, len(args))

	for _, arg := range args {
		p := payload{path: arg}

		if entry, path, found := strings.Cut(arg, "="); found {
			p.entry, p.path = entry, path
		} else {
			p.entry = filepath.Base(arg)
		}

		if err := config.ValidateEntry(p.entry); err != nil {
			return nil, err
		}

		if _, dup := seen[p.entry]; dup {
			return nil, fmt.Errorf("%w: %s", errDuplicateEntry, p.entry)
		}

		seen[p.entry] = struct{}{}
		result = append(result, p)
	}

	return result, nil
}

// writePackage streams the script, the payloads and the manifest into w.
func writePackage(ctx context.Context, w io.Writer, cfg *config.Config, src []byte, payloads []payload) ([]string, error) {
	var (
		zw      = zip.NewWriter(w)
		m       = manifest.New()
		entries = make([]string, 0, len(payloads)+2)
	)

	scriptWriter, err := zw.Create(cfg.ScriptEntry)
	if err != nil {
		return nil, err
	}

	if _, err = scriptWriter.Write(src); err != nil {
		return nil, fmt.Errorf("write script: %w", err)
	}

	entries = append(entries, cfg.ScriptEntry)

	for _, p := range payloads {
		logger.InfoKV(ctx, "Packing payload", "entry", p.entry, "path", p.path)

		var checksum []byte

		checksum, err = addPayload(zw, p)
		if err != nil {
			return nil, err
		}

		m.Add(p.entry, checksum)
		entries = append(entries, p.entry)
	}

	data, err := m.Marshal()
	if err != nil {
		return nil, err
	}

	manifestWriter, err := zw.Create(cfg.ManifestEntry)
	if err != nil {
		return nil, err
	}

	if _, err = manifestWriter.Write(data); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}

	entries = append(entries, cfg.ManifestEntry)

	if err = zw.Close(); err != nil {
		return nil, fmt.Errorf("finish package: %w", err)
	}

	slices.Sort(entries)

	return entries, nil
}

// addPayload copies one file into the zip and returns its checksum.
func addPayload(zw *zip.Writer, p payload) ([]byte, error) {
	f, err := os.Open(filepath.Clean(p.path))
	if err != nil {
		return nil, fmt.Errorf("open payload: %w", err)
	}

	defer func() {
		_ = f.Close()
	}()

	w, err := zw.Create(p.entry)
	if err != nil {
		return nil, err
	}

	checksum, err := manifest.Sum(io.TeeReader(f, w))
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", p.path, err)
	}

	return checksum, nil
}

// printNextSteps logs human-readable guidance for installing the package.
func printNextSteps(ctx context.Context, output string, entries []string) {
	var builder strings.Builder

	builder.WriteString("Package ")
	builder.WriteString(output)
	builder.WriteString(" contains:\n")
	builder.WriteString(strings.Join(entries, ",\n"))
	builder.WriteString("\n\nInstall it from recovery, for example: adb sideload ")
	builder.WriteString(output)

	logger.Info(ctx, builder.String())
}
