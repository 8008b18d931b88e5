// Package sanitize provides tenant identifier sanitization and validation.
//
// Tenant identifiers are derived from external identity tokens (Auth0 subject
// claims such as "auth0|64f1c2"), but are also used as filesystem directory
// names under the data root. This package normalizes raw subjects into safe
// identifiers and validates identifiers before any filesystem use.
package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	// MaxIdentifierLength is the maximum length for a tenant identifier.
	MaxIdentifierLength = 64

	// HashSuffixLength is the length of the hash suffix added to truncated
	// identifiers. Format: _<8-char-hash> = 9 characters total.
	HashSuffixLength = 9
)

// Identifier sanitizes a raw subject string into a tenant identifier.
//
// Rules applied:
//   - Converts to lowercase
//   - Replaces invalid characters with underscores
//   - Collapses multiple underscores
//   - Trims leading/trailing underscores
//   - Truncates to MaxIdentifierLength with hash suffix if too long
//
// Examples:
//
//	"auth0|64f1c2aB"  -> "auth0_64f1c2ab"
//	"google-oauth2|1" -> "google_oauth2_1"
//	"" or "!!!"       -> ""
//
// An empty result means the subject carried no usable characters; callers
// must treat that as an invalid tenant.
func Identifier(s string) string {
	s = strings.ToLower(s)

	var result strings.Builder
	result.Grow(len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			result.WriteRune(r)
		} else {
			result.WriteRune('_')
		}
	}

	sanitized := result.String()
	for strings.Contains(sanitized, "__") {
		sanitized = strings.ReplaceAll(sanitized, "__", "_")
	}
	sanitized = strings.Trim(sanitized, "_")

	if len(sanitized) > MaxIdentifierLength {
		sanitized = truncateWithHash(sanitized)
	}

	return sanitized
}

// truncateWithHash truncates a string to fit within MaxIdentifierLength,
// appending a hash suffix to preserve uniqueness between long subjects
// that share a prefix.
func truncateWithHash(s string) string {
	hash := sha256.Sum256([]byte(s))
	hashSuffix := "_" + hex.EncodeToString(hash[:])[:HashSuffixLength-1]

	maxBase := MaxIdentifierLength - HashSuffixLength
	truncated := strings.TrimRight(s[:maxBase], "_")

	return truncated + hashSuffix
}
