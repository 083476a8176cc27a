// Package outcome contains the core domain types of an update attempt.
//
// It defines the error and cause code enumerations reported to the parent
// process, the Phase of the attempt state machine, and Result, the immutable
// value a script engine returns after evaluation.
package outcome
