package util

import (
	"net/url"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// TruncateString truncates a string to maxRunes characters (rune-based, not byte-based)
// If truncated, appends "..." to the result
func TruncateString(s string, maxRunes int) string {
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes]) + "..."
}

// Normalize performs basic string normalization (lowercase + trim)
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeKey normalizes a name for use as a lookup key by removing separators
// and punctuation, so "Animoca Brands" and "animoca-brands" share a key.
func NormalizeKey(name string) string {
	name = Normalize(stripMarks(name))
	if name == "" {
		return ""
	}

	var builder strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			builder.WriteRune(r)
		}
	}
	return builder.String()
}

func stripMarks(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Slugify converts a display name to a URL-safe slug. Words are split on any
// non-alphanumeric rune and on lower-to-upper case boundaries, so "ProjectA"
// becomes "project-a" while "a16z" is left intact.
func Slugify(name string) string {
	name = strings.TrimSpace(stripMarks(name))
	if name == "" {
		return ""
	}

	var builder strings.Builder
	pendingDash := false
	var prev rune
	for _, r := range name {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			if unicode.IsUpper(r) && unicode.IsLower(prev) {
				pendingDash = true
			}
			if pendingDash && builder.Len() > 0 {
				builder.WriteByte('-')
			}
			pendingDash = false
			builder.WriteRune(unicode.ToLower(r))
		case r == '\'' || r == '’':
			// apostrophes join words: "O'Leary" -> "oleary"
		default:
			pendingDash = true
		}
		prev = r
	}
	return builder.String()
}

// SlugFromURL returns the slugified last non-empty path segment of a profile URL.
func SlugFromURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	path := raw
	if parsed, err := url.Parse(raw); err == nil {
		path = parsed.Path
	}
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if seg := strings.TrimSpace(segments[i]); seg != "" {
			if unescaped, err := url.PathUnescape(seg); err == nil {
				seg = unescaped
			}
			return Slugify(seg)
		}
	}
	return ""
}

// SuffixSlug returns base for n <= 1 and base-n otherwise.
func SuffixSlug(base string, n int) string {
	if n <= 1 {
		return base
	}
	return base + "-" + strconv.Itoa(n)
}

// Contains checks if a string slice contains a specific item
func Contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
