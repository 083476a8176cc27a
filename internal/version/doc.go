// Package version exposes build metadata for update-binary and update-packager.
//
// Variables Version, Commit and BuildTime are injected at build time via
// Go ldflags. Packages produced by update-packager are stamped with Short.
package version
