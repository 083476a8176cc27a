// Package label resolves the security context of files written by update scripts.
//
// A Handle is loaded from a file_contexts file: one specification per line,
// "<path regexp> [<file type>] <context>". Lookup follows the usual rule that
// a later specification overrides an earlier one. Applying the context to a
// file is done with go-selinux and is skipped when SELinux is disabled.
package label

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/opencontainers/selinux/go-selinux"
)

// noContext marks paths that must not be labeled.
const noContext = "<<none>>"

// errMalformed is returned for file_contexts lines that cannot be used.
var errMalformed = errors.New("malformed file_contexts line")

// Handle is a loaded set of file contexts.
type Handle struct {
	// path is the file the contexts were read from.
	path string
	// rules are the specifications in file order.
	rules []rule
}

// rule is one file_contexts specification.
type rule struct {
	pattern *regexp.Regexp
	// fileType is the optional type restriction such as "--" or "-d".
	fileType string
	context  string
}

// Load reads and compiles a file_contexts file.
func Load(path string) (*Handle, error) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read file contexts: %w", err)
	}

	var (
		rules   []rule
		lineNo  int
		scanner = bufio.NewScanner(bytes.NewReader(contents))
	)

	for scanner.Scan() {
		lineNo++

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		r, err := parseRule(line)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}

		rules = append(rules, r)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file contexts: %w", err)
	}

	return &Handle{
		path:  path,
		rules: rules,
	}, nil
}

func parseRule(line string) (rule, error) {
	var r rule

	fields := strings.Fields(line)

	switch len(fields) {
	case 2:
		r.context = fields[1]
	case 3:
		r.fileType, r.context = fields[1], fields[2]
	default:
		return r, errMalformed
	}

	pattern, err := regexp.Compile("^(?:" + fields[0] + ")$")
	if err != nil {
		return r, fmt.Errorf("%w: %w", errMalformed, err)
	}

	r.pattern = pattern

	return r, nil
}

// Path returns the file the handle was loaded from.
func (h *Handle) Path() string {
	if h == nil {
		return ""
	}

	return h.path
}

// Rules returns the number of specifications in the file.
func (h *Handle) Rules() int {
	if h == nil {
		return 0
	}

	return len(h.rules)
}

// Lookup returns the context for a regular file at path. The last matching
// specification wins; "<<none>>" means the file stays unlabeled.
func (h *Handle) Lookup(path string) (string, bool) {
	if h == nil {
		return "", false
	}

	for i := len(h.rules) - 1; i >= 0; i-- {
		r := h.rules[i]

		if r.fileType != "" && r.fileType != "--" {
			continue
		}

		if !r.pattern.MatchString(path) {
			continue
		}

		if r.context == noContext {
			return "", false
		}

		return r.context, true
	}

	return "", false
}

// Apply sets the context of the file at path. It reports whether a label
// was written; nothing is done when SELinux is disabled.
func (h *Handle) Apply(path string) (bool, error) {
	fileContext, ok := h.Lookup(path)
	if !ok || !selinux.GetEnabled() {
		return false, nil
	}

	if err := selinux.SetFileLabel(path, fileContext); err != nil {
		return false, fmt.Errorf("label %s as %s: %w", path, fileContext, err)
	}

	return true, nil
}
