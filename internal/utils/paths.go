// Package utils provides shared helpers for path handling, identifiers and
// keyed hashing.
package utils

import (
	"path/filepath"
	"strings"
)

// SplitSubjectRelative splits a cohort-relative path into its subject key
// and the remainder below the subject folder. Backslashes are treated as
// separators, repeated separators collapse and leading or trailing
// separators are dropped. A path without a separator yields an empty
// remainder.
func SplitSubjectRelative(path string) (subjectKey, remainder string) {
	parts := pathSegments(path)
	if len(parts) == 0 {
		return "", ""
	}
	return parts[0], strings.Join(parts[1:], "/")
}

// NormalizeRelative returns path in the canonical slash-separated form used
// for resume lookups and stored file paths.
func NormalizeRelative(path string) string {
	return strings.Join(pathSegments(path), "/")
}

// RelativeSlashPath returns target relative to root in canonical form
func RelativeSlashPath(root, target string) (string, error) {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return "", err
	}
	return NormalizeRelative(filepath.ToSlash(rel)), nil
}

func pathSegments(path string) []string {
	path = strings.ReplaceAll(path, `\`, "/")
	return strings.FieldsFunc(path, func(r rune) bool { return r == '/' })
}
