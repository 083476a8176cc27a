// Package updater drives one attempt at installing an update package.
//
// The Orchestrator opens the package, extracts the update script, runs it
// through a script engine and reports the outcome to the parent process as
// protocol lines on the command channel. Run wires configuration, logging,
// the single-instance guard and the attempt record around it for the CLI.
package updater
