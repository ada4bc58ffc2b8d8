package alert

import (
	"regexp"
	"time"
)

// Broken template expansions leak out of some sources as literal
// fmt artifacts, e.g. "%!f(<nil>)" when a dashboard variable is unset.
var brokenVerbRe = regexp.MustCompile(`%!(?:[a-zA-Z])?\(<nil>\)`)

// Sanitize replaces broken template artifacts in display text with "N/A".
func Sanitize(s string) string {
	if s == "" {
		return s
	}
	return brokenVerbRe.ReplaceAllString(s, "N/A")
}

// MeaningfulTime reports whether t carries real information.
// Sources use the zero value or year-0001 sentinels for "not set".
func MeaningfulTime(t time.Time) bool {
	return !t.IsZero() && t.Year() > 1
}
