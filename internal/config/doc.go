// Package config defines the update-binary settings and provides helpers to
// load, validate and save them in YAML format.
//
// A missing settings file is not an error: recovery images usually ship
// without one and the defaults describe the standard package layout.
package config
