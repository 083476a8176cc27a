// Package channel implements the one-way command pipe to the recovery parent.
//
// Every command is a single newline-terminated line of text. The stream is
// line buffered: a write is pushed to the underlying file as soon as a line
// is complete. The channel never reads from the stream.
package channel
