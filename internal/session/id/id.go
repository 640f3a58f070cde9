// Package id provides unique identifier generation for sessions.
package id

import "github.com/google/uuid"

// Prefix marks session identifiers.
const Prefix = "sess-"

// Generate creates a new unique session ID.
// Format: sess-<uuid v4>
func Generate() string {
	return Prefix + uuid.NewString()
}

// Valid reports whether s looks like an identifier produced by Generate.
func Valid(s string) bool {
	if len(s) <= len(Prefix) || s[:len(Prefix)] != Prefix {
		return false
	}
	_, err := uuid.Parse(s[len(Prefix):])
	return err == nil
}
