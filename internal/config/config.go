package config

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/update-binary/internal/logger"
)

// Config holds the settings of one update-binary run.
type Config struct {
	// ScriptEntry is the container entry holding the update script.
	ScriptEntry string `yaml:"script_entry"`
	// ManifestEntry is the container entry holding payload checksums.
	ManifestEntry string `yaml:"manifest_entry"`
	// LogLevel is the minimum level written to the install log.
	LogLevel string `yaml:"log_level"`
	// RecordFile is where the outcome of the last attempt is stored.
	// An empty value disables the record.
	RecordFile string `yaml:"record_file"`
	// SingleInstance refuses to start while another update-binary runs.
	SingleInstance bool `yaml:"single_instance"`
}

const (
	// DefaultConfigFilename is the default filename for settings.
	DefaultConfigFilename = "update-binary.yaml"

	// DefaultScriptEntry is the well-known script location inside a package.
	DefaultScriptEntry = "META-INF/com/google/android/updater-script"

	// DefaultManifestEntry is the well-known checksum manifest location inside a package.
	DefaultManifestEntry = "META-INF/com/android/manifest.yaml"

	// DefaultLogLevel is used when no level is configured.
	DefaultLogLevel = "info"

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errInvalidEntry is returned for entry names a zip container cannot hold.
	errInvalidEntry = errors.New("invalid container entry name")
	// errInvalidLogLevel is returned for unknown log levels.
	errInvalidLogLevel = errors.New("invalid log level")
)

// Default returns the settings used when no file is present.
func Default() *Config {
	return &Config{
		ScriptEntry:    DefaultScriptEntry,
		ManifestEntry:  DefaultManifestEntry,
		LogLevel:       DefaultLogLevel,
		SingleInstance: true,
	}
}

// Load reads configuration from the provided path and validates it.
// A missing file yields Default.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	cfg := Default()

	contents, err := os.ReadFile(filepath.Clean(path))
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}

	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	if err := yaml.Unmarshal(contents, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes Config to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks entry names and the log level, filling defaults for empty values.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.ScriptEntry == "" {
		cfg.ScriptEntry = DefaultScriptEntry
	}

	if cfg.ManifestEntry == "" {
		cfg.ManifestEntry = DefaultManifestEntry
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}

	for _, name := range []string{cfg.ScriptEntry, cfg.ManifestEntry} {
		if err := ValidateEntry(name); err != nil {
			return err
		}
	}

	if _, ok := logger.ParseLogLevel(cfg.LogLevel); !ok {
		return fmt.Errorf("%w: %q", errInvalidLogLevel, cfg.LogLevel)
	}

	return nil
}

// ValidateEntry rejects absolute, parent-relative and non-canonical names.
func ValidateEntry(name string) error {
	switch {
	case strings.HasPrefix(name, "/"),
		strings.Contains(name, "\\"),
		path.Clean(name) != name,
		name == "..",
		strings.HasPrefix(name, "../"):
		return fmt.Errorf("%w: %q", errInvalidEntry, name)
	default:
		return nil
	}
}
