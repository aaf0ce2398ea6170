package store

import (
	"cmp"
	"slices"
	"strings"
)

// IsLocalID reports whether id carries the local fallback prefix.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, LocalIDPrefix)
}

// SortCommentsDesc orders comments newest first; equal timestamps fall back to id
// so the order is deterministic across backends.
func SortCommentsDesc(comments []Comment) {
	slices.SortStableFunc(comments, func(a, b Comment) int {
		if diff := b.CreatedAt.Compare(a.CreatedAt); diff != 0 {
			return diff
		}
		return cmp.Compare(b.ID, a.ID)
	})
}

// SanitizePageID turns a request path into a document id: every rune that is not
// an ASCII letter or digit becomes an underscore, and the empty path maps to "home".
func SanitizePageID(path string) string {
	trimmed := strings.Trim(strings.TrimSpace(path), "/")
	if trimmed == "" {
		return "home"
	}

	var b strings.Builder
	b.Grow(len(trimmed))
	for _, r := range trimmed {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return DefaultCommentLimit
	}
	return limit
}
