package drive

import "time"

// Defaults applied by Normalize.
const (
	DefaultRecord       = 2 * time.Second
	DefaultPollers      = 2
	DefaultPollInterval = 100 * time.Millisecond
	DefaultTimeout      = 10 * time.Second
)

const (
	percentageMultiplier = 100
	pngMagic             = "\x89PNG\r\n\x1a\n"
	directoryPermission  = 0o750
)
