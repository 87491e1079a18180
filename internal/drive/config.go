package drive

import "time"

// Config holds configuration for a drive run.
type Config struct {
	BaseURL      string        // Base URL of the service
	Overlays     []string      // Overlay IDs to cycle; empty cycles every defined overlay
	Record       time.Duration // Recording length, pauses excluded
	Pause        time.Duration // Pause inserted mid recording; zero skips pause/resume
	Pollers      int           // Concurrent snapshot/tracking pollers during recording
	PollInterval time.Duration // Delay between polls of one poller
	Timeout      time.Duration // HTTP request timeout
	Format       string        // Requested container; empty uses the service default
	Preset       string        // Requested preset; empty uses the service default
	Audio        bool          // Request microphone audio
	OutputDir    string        // Where the downloaded recording is written; empty skips saving
	Verbose      bool          // Log every poll
}

// Stats holds run statistics.
type Stats struct {
	OverlaysCycled   int
	TrackingPolls    int64
	TrackingHits     int64
	Snapshots        int64
	SnapshotFailures int64
	RecordingID      string
	RecordedBytes    int64
	DownloadedBytes  int64
	DownloadedFile   string
	Truncated        bool
	StartTime        time.Time
	EndTime          time.Time
	Duration         time.Duration
}
