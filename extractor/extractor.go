package extractor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/rs/zerolog"
)

const dirPerm = 0o755

// Result carries the outcome of one extractor invocation. Output holds the
// combined stdout/stderr of the tool for the history log.
type Result struct {
	Output   string
	Duration time.Duration
}

// SevenZip invokes an external 7-Zip compatible binary to unpack archives.
type SevenZip struct {
	binaryPath string
	timeout    time.Duration
	logger     zerolog.Logger
}

// NewSevenZip creates an extractor around the given binary path. An empty
// path falls back to "7z" on PATH. A zero timeout disables the deadline.
func NewSevenZip(binaryPath string, timeout time.Duration, logger zerolog.Logger) *SevenZip {
	if binaryPath == "" {
		binaryPath = "7z"
	}
	return &SevenZip{
		binaryPath: binaryPath,
		timeout:    timeout,
		logger:     logger,
	}
}

// Extract unpacks the archive at primary into destDir, creating the
// destination if needed. Success is exit code zero. Nonzero exits are
// classified into distinct causes where the tool surfaces them.
func (s *SevenZip) Extract(ctx context.Context, primary, destDir string) (*Result, error) {
	if err := os.MkdirAll(destDir, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create destination %s: %w", destDir, err)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	// x keeps directory structure, -y answers prompts, -p- fails fast on
	// password-protected archives instead of waiting on stdin.
	cmd := exec.CommandContext(ctx, s.binaryPath, "x", primary, "-o"+destDir, "-y", "-p-")

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	s.logger.Debug().
		Str("archive", primary).
		Str("destination", destDir).
		Msg("Invoking extractor")

	start := time.Now()
	err := cmd.Run()
	result := &Result{
		Output:   output.String(),
		Duration: time.Since(start),
	}

	if err == nil {
		return result, nil
	}

	if ctx.Err() == context.DeadlineExceeded {
		return result, &Error{
			Archive: primary,
			Cause:   CauseTimeout,
			Output:  result.Output,
			Err:     ctx.Err(),
		}
	}

	exitCode := -1
	if exitErr, ok := err.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	}

	return result, &Error{
		Archive:  primary,
		Cause:    classifyOutput(result.Output),
		ExitCode: exitCode,
		Output:   result.Output,
		Err:      err,
	}
}
