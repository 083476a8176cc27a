// Package attempt persists the outcome of the last update attempt.
//
// The FileRepository stores a Record as protobuf JSON on disk so that the
// recovery environment, or a later run, can inspect how the previous attempt
// ended without parsing the install log.
package attempt
