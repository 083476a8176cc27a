// Package manifest describes the payload checksums shipped inside an update package.
package manifest

import (
	"crypto"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/update-binary/internal/version"

	// Ensure SHA512 available for checksum calculation.
	_ "crypto/sha512"
)

// ChecksumFunction is used to calculate payload hashes.
const ChecksumFunction crypto.Hash = crypto.SHA512

// defaultMapCapacity is the default initial capacity for maps.
const defaultMapCapacity = 16

var (
	errHashUnavailable = errors.New("hash function unavailable")
	errNoChecksum      = errors.New("checksum missing for entry")
)

// Manifest contains metadata about a published package.
type Manifest struct {
	// Version is the version of the packager that produced the package.
	Version string `yaml:"version"`
	// Files maps entry names to their base64-encoded SHA-512 checksums.
	Files map[string]string `yaml:"files"`
}

// New produces an empty Manifest stamped with the current version.
func New() *Manifest {
	return &Manifest{
		Version: version.Short(),
		Files:   make(map[string]string, defaultMapCapacity),
	}
}

// Parse decodes a YAML manifest.
func Parse(data []byte) (*Manifest, error) {
	m := New()
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}

	if m.Files == nil {
		m.Files = make(map[string]string, defaultMapCapacity)
	}

	return m, nil
}

// Marshal encodes the manifest as YAML.
func (m *Manifest) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}

	return data, nil
}

// Add records the checksum of an entry.
func (m *Manifest) Add(entry string, checksum []byte) {
	m.Files[entry] = base64.StdEncoding.EncodeToString(checksum)
}

// Checksum returns the decoded checksum of an entry.
func (m *Manifest) Checksum(entry string) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("%s: %w", entry, errNoChecksum)
	}

	encoded, ok := m.Files[entry]
	if !ok {
		return nil, fmt.Errorf("%s: %w", entry, errNoChecksum)
	}

	checksum, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode checksum for %s: %w", entry, err)
	}

	return checksum, nil
}

// HasChecksum reports whether the manifest lists the entry.
func (m *Manifest) HasChecksum(entry string) bool {
	if m == nil {
		return false
	}

	_, ok := m.Files[entry]

	return ok
}

// Sum returns the checksum of everything read from r using ChecksumFunction.
func Sum(r io.Reader) ([]byte, error) {
	if !ChecksumFunction.Available() {
		return nil, fmt.Errorf("checksum calculation not possible: %w", errHashUnavailable)
	}

	hasher := ChecksumFunction.New()
	if _, err := io.Copy(hasher, r); err != nil {
		return nil, fmt.Errorf("calculate checksum: %w", err)
	}

	return hasher.Sum(nil), nil
}
