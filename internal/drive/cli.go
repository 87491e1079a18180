package drive

import (
	"fmt"
	"io"
	"os"

	"github.com/okian/facefx/pkg/logger"
)

// SetupLogging configures the process logger. When logFile is set, output
// goes to both stdout and the file.
func SetupLogging(level, logFile string) (io.Closer, error) {
	var (
		w      io.Writer = os.Stdout
		closer io.Closer = io.NopCloser(nil)
	)
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("failed to create log file: %w", err)
		}
		w = io.MultiWriter(os.Stdout, f)
		closer = f
	}
	if err := logger.Init(logger.WithFormat("text"), logger.WithWriter(w)); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if err := logger.SetLevelString(level); err != nil {
		return nil, fmt.Errorf("failed to set log level: %w", err)
	}
	return closer, nil
}

// ShowHelp prints usage information for the drive tool.
func ShowHelp(w io.Writer) {
	_, _ = io.WriteString(w, `facefx drive
============

Exercises a running facefx service: cycles overlays, records a clip while
polling snapshots and tracking, then downloads the stored recording.

Usage:
  facefx-drive [options]

Options:
  -url string         Base URL of the service (default "http://127.0.0.1:9080")
  -overlays string    Comma separated overlay IDs to cycle (default: all)
  -record duration    Recording length, pauses excluded (default 2s)
  -pause duration     Pause inserted mid recording (default 0, no pause)
  -pollers int        Concurrent pollers while recording (default 2)
  -interval duration  Delay between polls (default 100ms)
  -timeout duration   HTTP request timeout (default 10s)
  -format string      Requested container MIME type
  -preset string      Requested resolution preset
  -audio              Request microphone audio
  -out string         Directory for the downloaded recording
  -log string         Also write logs to this file
  -verbose            Log every poll
  -help               Show this help message
`)
}
