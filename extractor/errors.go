package extractor

import (
	"fmt"
	"strings"
)

// Cause identifies why an extraction failed, where the tool surfaces it.
type Cause string

const (
	CauseUnknown  Cause = "extractor error"
	CausePassword Cause = "wrong password"
	CauseCorrupt  Cause = "crc error"
	CauseTimeout  Cause = "timed out"
)

// Error is returned when the external tool exits nonzero or is killed.
type Error struct {
	Archive  string
	Cause    Cause
	ExitCode int
	Output   string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("extraction of %s failed: %s (exit %d)", e.Archive, e.Cause, e.ExitCode)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// classifyOutput maps tool output onto a distinct cause. 7-Zip prints
// "Wrong password" for bad or missing passwords and "CRC Failed" for
// corrupt data; unrar uses close variants.
func classifyOutput(output string) Cause {
	lower := strings.ToLower(output)
	switch {
	case strings.Contains(lower, "wrong password"),
		strings.Contains(lower, "enter password"),
		strings.Contains(lower, "password is incorrect"):
		return CausePassword
	case strings.Contains(lower, "crc failed"),
		strings.Contains(lower, "crc error"),
		strings.Contains(lower, "checksum error"),
		strings.Contains(lower, "data error"):
		return CauseCorrupt
	}
	return CauseUnknown
}
