// Package validation provides input validation for identifiers that end up in
// file paths. It has no dependencies to avoid import cycles.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// pathSafeRegex matches alphanumerics, dots, underscores, and hyphens.
// Session identifiers are used verbatim as file stems, so anything else
// is rejected.
var pathSafeRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// ValidateSessionID rejects session IDs that could escape the marker
// namespace directory when used as a file name.
func ValidateSessionID(id string) error {
	if id == "" {
		return errors.New("session ID cannot be empty")
	}
	if strings.ContainsAny(id, "/\\") {
		return fmt.Errorf("invalid session ID %q: contains path separators", id)
	}
	if id == "." || id == ".." {
		return fmt.Errorf("invalid session ID %q: reserved name", id)
	}
	return nil
}

// ValidatePathSafeID validates an identifier against the strict path-safe
// character set. Used for IDs from external hook input before they touch
// the filesystem.
func ValidatePathSafeID(id string) error {
	if id == "" {
		return errors.New("identifier cannot be empty")
	}
	if !pathSafeRegex.MatchString(id) {
		return fmt.Errorf("invalid identifier %q: must be alphanumeric with dots/underscores/hyphens only", id)
	}
	return nil
}
