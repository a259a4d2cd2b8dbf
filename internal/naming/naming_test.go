package naming

import (
	"strings"
	"testing"
	"time"
)

func TestDatedFilename(t *testing.T) {
	vilnius, err := time.LoadLocation("Europe/Vilnius")
	if err != nil {
		t.Skipf("tzdata not available: %v", err)
	}
	// 22:30 UTC is already the next day in Vilnius (UTC+3 in summer).
	now := time.Date(2025, 7, 14, 22, 30, 0, 0, time.UTC)

	if got := DatedFilename(now, vilnius); got != "2025-07-15.pdf" {
		t.Errorf("expected 2025-07-15.pdf, got %s", got)
	}
	if got := DatedFilename(now, nil); got != "2025-07-14.pdf" {
		t.Errorf("expected UTC date 2025-07-14.pdf, got %s", got)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"invoice", "invoice.pdf"},
		{"invoice.pdf", "invoice.pdf"},
		{"Invoice.PDF", "Invoice.pdf"},
		{"Šiaulių sąskaita", "Siauliu_saskaita.pdf"},
		{"Straße Größe", "Strasse_Grosse.pdf"},
		{"../../etc/passwd", "passwd.pdf"},
		{`C:\Users\me\photo.jpg`, "photo.jpg.pdf"},
		{"a  b\t\tc", "a_b_c.pdf"},
		{"report..final", "report.final.pdf"},
		{"__hidden__", "hidden.pdf"},
		{"quote\"name", "quote_name.pdf"},
		{"", ""},
		{"   ", ""},
		{"***", ""},
		{".pdf", ""},
	}
	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}

func TestSanitizeFilename_Length(t *testing.T) {
	got := SanitizeFilename(strings.Repeat("a", 500))
	if len(got) > maxFilenameLen {
		t.Errorf("expected at most %d chars, got %d", maxFilenameLen, len(got))
	}
	if !strings.HasSuffix(got, ".pdf") {
		t.Errorf("expected .pdf suffix, got %q", got)
	}
}

func TestSanitizeSubject(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Receipt", "Receipt"},
		{"  Receipt   for \t March ", "Receipt for March"},
		{"Hello\r\nBcc: victim@example.com", "Hello Bcc: victim@example.com"},
		{"Sąskaita už\x00 kovą", "Sąskaita už kovą"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := SanitizeSubject(tt.in); got != tt.want {
			t.Errorf("SanitizeSubject(%q): expected %q, got %q", tt.in, tt.want, got)
		}
	}

	long := SanitizeSubject(strings.Repeat("ž", 500))
	if n := len([]rune(long)); n != maxSubjectLen {
		t.Errorf("expected %d runes, got %d", maxSubjectLen, n)
	}
}
