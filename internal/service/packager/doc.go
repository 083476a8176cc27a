// Package packager builds update packages consumed by update-binary.
//
// A package is a zip holding the update script at the well-known entry, the
// payload files the script installs, and a YAML manifest with the SHA-512
// checksum of every payload. The script is parsed before it is packed so a
// broken script never reaches a device.
package packager
