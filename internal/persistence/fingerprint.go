package persistence

import (
	"strings"

	"github.com/inful/mdfp"
	"golang.org/x/text/unicode/norm"
)

// Fingerprint returns the content fingerprint of a block's original source.
// Line endings are normalized to LF and text to NFC first, so the same source
// fingerprints identically regardless of how the page was authored.
func Fingerprint(source string) string {
	return mdfp.CalculateFingerprintFromParts("", normalizeSource(source))
}

// Matches reports whether rec was saved against source. Records saved without a
// fingerprint always match.
func Matches(rec Record, source string) bool {
	return rec.Fingerprint == "" || rec.Fingerprint == Fingerprint(source)
}

func normalizeSource(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return norm.NFC.String(s)
}
