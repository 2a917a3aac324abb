// Package sessionkey normalizes session identifiers into marker store keys.
// This package has minimal dependencies to avoid import cycles.
package sessionkey

import "strings"

// Default is the key used when the caller supplies no session identifier.
// Real identifiers are validated to be non-empty before reaching the store,
// so they can never collide with it accidentally; a caller passing the
// literal "unknown" shares the default bucket, which is the intended
// behavior for unidentified sessions.
const Default = "unknown"

// Normalize maps a raw session identifier to a store key. Empty and
// whitespace-only identifiers fall back to Default so tracking never
// fails for a missing identifier. All other identifiers pass through
// unchanged.
func Normalize(id string) string {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return Default
	}
	return trimmed
}
