package batchexec

import "testing"

func TestStripANSI_RemovesColorCodes(t *testing.T) {
	cases := map[string]string{
		"\x1b[31mERROR\x1b[0m":       "ERROR",
		"\x1b[1;32mSUCCESS\x1b[0m":   "SUCCESS",
		"\x1b[34mINFO\x1b[0m":        "INFO",
		"\x1b[1;33mWARNING\x1b[0m":   "WARNING",
	}
	for in, want := range cases {
		if got := stripANSI(in); got != want {
			t.Errorf("stripANSI(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStripANSI_RemovesCursorMovement(t *testing.T) {
	cases := map[string]string{
		"\x1b[2K\x1b[1G": "",
		"\x1b[A":         "",
		"\x1b[10;20H":    "",
	}
	for in, want := range cases {
		if got := stripANSI(in); got != want {
			t.Errorf("stripANSI(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStripANSI_PreservesPlainText(t *testing.T) {
	plain := "This is plain text with no ANSI codes"
	if got := stripANSI(plain); got != plain {
		t.Errorf("stripANSI(%q) = %q, want unchanged", plain, got)
	}
}

func TestStripANSI_HandlesEmptyString(t *testing.T) {
	if got := stripANSI(""); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
}

func TestStripANSI_HandlesTerminalTitleCodes(t *testing.T) {
	in := "\x1b]0;Terminal Title\x07Content"
	if got := stripANSI(in); got != "Content" {
		t.Errorf("stripANSI(%q) = %q, want %q", in, got, "Content")
	}
}

func TestStripANSI_HandlesComplexOutput(t *testing.T) {
	in := "\x1b[2K\x1b[1G\x1b[32m[=====>   ]\x1b[0m 50%"
	want := "[=====>   ] 50%"
	if got := stripANSI(in); got != want {
		t.Errorf("stripANSI(%q) = %q, want %q", in, got, want)
	}
}
