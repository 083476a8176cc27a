// Package logger provides a small wrapper around zap to offer:
//   - a global sugared logger writing a plain console format to stderr,
//   - context helpers (ToContext/FromContext/WithName/WithKV),
//   - level configuration and parsing utilities,
//   - convenience functions (Infof, ErrorKV, etc.).
//
// In recovery stderr is redirected to the install log, so everything logged
// here ends up in the operator-side diagnostic trail and never on the
// command channel.
package logger
