package batchexec

import "regexp"

// csiSequence matches ANSI CSI (Control Sequence Introducer) escapes:
// ESC '[' followed by parameter/intermediate bytes and a final letter
// (colors, cursor movement, erase-line, ...).
var csiSequence = regexp.MustCompile("\x1b\\[[0-9;]*[a-zA-Z]")

// oscSequence matches ANSI OSC (Operating System Command) escapes,
// used for terminal title-setting: ESC ']' ... BEL.
var oscSequence = regexp.MustCompile("\x1b\\][^\x07]*\x07")

// stripANSI removes CSI and OSC escape sequences from s, grounded on
// original_source/tests/unit/test_utils.py's strip_ansi behavior.
func stripANSI(s string) string {
	s = oscSequence.ReplaceAllString(s, "")
	s = csiSequence.ReplaceAllString(s, "")
	return s
}
