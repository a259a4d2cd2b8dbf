// Package naming builds and cleans the user-facing names of generated
// documents: attachment filenames and mail subjects.
package naming

import (
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	maxFilenameLen = 100
	maxSubjectLen  = 200
	pdfExt         = ".pdf"
)

// DefaultTimezone is used for dated filenames when none is configured.
const DefaultTimezone = "Europe/Vilnius"

// DatedFilename returns "YYYY-MM-DD.pdf" for now in loc.
func DatedFilename(now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return now.In(loc).Format("2006-01-02") + pdfExt
}

// foldLetters maps letters that do not decompose under NFD.
var foldLetters = strings.NewReplacer(
	"ß", "ss", "Æ", "AE", "æ", "ae", "Ø", "O", "ø", "o",
	"Ł", "L", "ł", "l", "Đ", "D", "đ", "d", "Þ", "Th", "þ", "th",
)

// transliterate strips combining marks so "Šiaulių" becomes "Siauliu".
func transliterate(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return foldLetters.Replace(out)
}

// SanitizeFilename turns user input into a safe PDF filename made of ASCII
// letters, digits, '-', '_' and '.', always ending in ".pdf". It returns ""
// when nothing usable remains.
func SanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	// Drop any directory part a browser might send.
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if strings.EqualFold(filepath.Ext(name), pdfExt) {
		name = name[:len(name)-len(pdfExt)]
	}
	name = transliterate(name)

	var b strings.Builder
	lastSep := true
	for _, r := range name {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			lastSep = false
		case r == '.' || r == '-' || r == '_':
			if !lastSep {
				b.WriteRune(r)
				lastSep = true
			}
		default:
			if !lastSep {
				b.WriteByte('_')
				lastSep = true
			}
		}
	}

	base := strings.Trim(b.String(), "._-")
	if base == "" {
		return ""
	}
	if len(base) > maxFilenameLen-len(pdfExt) {
		base = strings.TrimRight(base[:maxFilenameLen-len(pdfExt)], "._-")
	}
	return base + pdfExt
}

// SanitizeSubject removes control characters (including CR and LF, which
// could inject headers), collapses whitespace and caps the length.
func SanitizeSubject(subject string) string {
	fields := strings.FieldsFunc(subject, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	})
	s := strings.Join(fields, " ")
	if r := []rune(s); len(r) > maxSubjectLen {
		s = strings.TrimSpace(string(r[:maxSubjectLen]))
	}
	return s
}
