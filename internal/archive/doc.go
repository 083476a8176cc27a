// Package archive opens update packages.
//
// A package is a zip container that is memory-mapped read-only for the whole
// update attempt. Entries are extracted in one bulk copy into a buffer sized
// from the entry's declared uncompressed length.
package archive
