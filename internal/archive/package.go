package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

var (
	// ErrContainerOpen is returned when the file cannot be mapped or is not a valid container.
	ErrContainerOpen = errors.New("open container")
	// ErrMapFile narrows ErrContainerOpen down to the memory mapping step.
	ErrMapFile = errors.New("map file")
	// ErrEntryNotFound is returned when the container has no entry with the requested name.
	ErrEntryNotFound = errors.New("entry not found")
	// ErrExtraction is returned when an entry cannot be decompressed or its size is wrong.
	ErrExtraction = errors.New("extract entry")

	// errClosed is returned by operations on a released package.
	errClosed = errors.New("package is closed")
	// errNotMappable is returned for files that cannot back a mapping.
	errNotMappable = errors.New("file cannot be mapped")
)

// Package is a memory-mapped update container.
// It is owned by a single update attempt and is not safe for concurrent use.
type Package struct {
	// path is the file the package was opened from.
	path string
	// data is the read-only mapping of the whole file.
	data []byte
	// zip indexes the mapped bytes.
	zip *zip.Reader
	// entries maps entry names to their headers.
	entries map[string]*zip.File
}

// Open memory-maps the file at path and opens it as a container.
func Open(path string) (*Package, error) {
	data, err := mapFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w: %w", ErrContainerOpen, path, ErrMapFile, err)
	}

	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		_ = unix.Munmap(data)

		return nil, fmt.Errorf("%w %s: %w", ErrContainerOpen, path, err)
	}

	entries := make(map[string]*zip.File, len(reader.File))
	for _, f := range reader.File {
		// First entry wins on duplicate names, same as a central directory lookup.
		if _, exists := entries[f.Name]; !exists {
			entries[f.Name] = f
		}
	}

	return &Package{
		path:    path,
		data:    data,
		zip:     reader,
		entries: entries,
	}, nil
}

// Path returns the file the package was opened from.
func (p *Package) Path() string {
	return p.path
}

// Size returns the number of mapped bytes.
func (p *Package) Size() int {
	return len(p.data)
}

// Entries returns entry names in container order.
func (p *Package) Entries() []string {
	if p.zip == nil {
		return nil
	}

	names := make([]string, 0, len(p.zip.File))
	for _, f := range p.zip.File {
		names = append(names, f.Name)
	}

	return names
}

// Has reports whether the container holds an entry called name.
func (p *Package) Has(name string) bool {
	_, ok := p.entries[name]

	return ok
}

// ExtractEntry copies the full decompressed content of an entry into a new
// buffer of exactly the declared uncompressed length.
func (p *Package) ExtractEntry(name string) ([]byte, error) {
	f, err := p.lookup(name)
	if err != nil {
		return nil, err
	}

	if f.UncompressedSize64 > math.MaxInt {
		return nil, fmt.Errorf("%w %s: declared size %d is too large", ErrExtraction, name, f.UncompressedSize64)
	}

	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrExtraction, name, err)
	}

	defer func() {
		_ = rc.Close()
	}()

	buf := make([]byte, int(f.UncompressedSize64))
	if _, err = io.ReadFull(rc, buf); err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrExtraction, name, err)
	}

	// Reading past the declared end lets the zip reader verify the CRC and
	// catches entries holding more data than declared.
	var extra [1]byte

	n, err := rc.Read(extra[:])
	if n > 0 {
		return nil, fmt.Errorf("%w %s: entry is larger than declared size %d", ErrExtraction, name, len(buf))
	}

	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w %s: %w", ErrExtraction, name, err)
	}

	return buf, nil
}

// OpenEntry opens an entry for streaming and reports its declared size.
func (p *Package) OpenEntry(name string) (io.ReadCloser, int64, error) {
	f, err := p.lookup(name)
	if err != nil {
		return nil, 0, err
	}

	rc, err := f.Open()
	if err != nil {
		return nil, 0, fmt.Errorf("%w %s: %w", ErrExtraction, name, err)
	}

	//nolint:gosec // Sizes above MaxInt64 are rejected by the zip reader.
	return rc, int64(f.UncompressedSize64), nil
}

// Close unmaps the file. It is safe to call more than once.
func (p *Package) Close() error {
	if p == nil || p.data == nil {
		return nil
	}

	data := p.data
	p.data, p.zip, p.entries = nil, nil, nil

	if err := unix.Munmap(data); err != nil {
		return fmt.Errorf("unmap %s: %w", p.path, err)
	}

	return nil
}

func (p *Package) lookup(name string) (*zip.File, error) {
	if p.data == nil {
		return nil, errClosed
	}

	f, ok := p.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", ErrEntryNotFound, name, p.path)
	}

	return f, nil
}

// mapFile maps the whole file read-only and private. The descriptor is closed right away;
// the mapping stays valid until Munmap.
func mapFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = f.Close()
	}()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	size := info.Size()

	switch {
	case !info.Mode().IsRegular():
		return nil, fmt.Errorf("%w: not a regular file", errNotMappable)
	case size == 0:
		return nil, fmt.Errorf("%w: empty file", errNotMappable)
	case size > math.MaxInt:
		return nil, fmt.Errorf("%w: %d bytes", errNotMappable, size)
	}

	return unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
}
