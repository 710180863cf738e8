// Package textutil provides filename sanitization and slug helpers.
//
// The primary use cases are:
//   - Sanitizing filenames and path segments for safe filesystem use
//   - Deriving stable lowercase identifiers for watch targets
//
// Slugs fold accented characters to their ASCII base letters before
// replacing anything outside [a-z0-9_-].
package textutil
