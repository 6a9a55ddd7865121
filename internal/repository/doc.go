// Package repository owns the on-disk layout of uploaded repositories:
//
//	<StoragePath>/<name>_<version>/<sanitized-stem><ext>
//
// Each upload creates a fresh version directory named after the sanitised
// repository name and a UTC timestamp (YYYYMMDD_HHMMSS). Listings are rebuilt
// from directory names and every record is re-validated through the path
// guard, so hand-edited or foreign entries are skipped instead of trusted.
// A failed create never leaves a discoverable directory behind.
package repository
