// Package drive exercises a running facefx service over its HTTP surface:
// it cycles overlays, records a clip while polling snapshots, and downloads
// the result.
package drive

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"

	"github.com/okian/facefx/pkg/logger"
)

// Normalize fills zero fields with defaults.
func (c *Config) Normalize() {
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Record <= 0 {
		c.Record = DefaultRecord
	}
	if c.Pollers <= 0 {
		c.Pollers = DefaultPollers
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
}

// Run executes the complete drive against cfg.BaseURL.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	cfg.Normalize()
	stats := &Stats{StartTime: time.Now()}
	client := NewHTTPClient(cfg.BaseURL, cfg.Timeout)
	log := logger.Get().Named("drive")

	log.Info(ctx, "starting facefx drive",
		logger.String("baseURL", cfg.BaseURL),
		logger.Duration("record", cfg.Record),
		logger.Duration("pause", cfg.Pause),
		logger.Int("pollers", cfg.Pollers))

	// Step 1: Check service health
	if err := checkServiceHealth(ctx, client); err != nil {
		return stats, fmt.Errorf("service health check failed: %w", err)
	}

	// Step 2: Cycle overlays
	if err := cycleOverlays(ctx, client, cfg, stats); err != nil {
		return stats, fmt.Errorf("overlay cycle failed: %w", err)
	}

	// Step 3: Record while polling
	if err := record(ctx, client, cfg, stats); err != nil {
		return stats, fmt.Errorf("recording failed: %w", err)
	}

	// Step 4: Download the stored recording
	if err := download(ctx, client, cfg, stats); err != nil {
		return stats, fmt.Errorf("download failed: %w", err)
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)

	// Step 5: Verify
	if err := verifyResults(stats); err != nil {
		return stats, err
	}

	displayFinalStats(ctx, stats)
	log.Info(ctx, "drive completed successfully")
	return stats, nil
}

// checkServiceHealth verifies the service is running. /healthz answers with
// the Prometheus exposition, so any 200 is healthy.
func checkServiceHealth(ctx context.Context, client *HTTPClient) error {
	logger.Get().Info(ctx, "checking service health")
	if _, _, err := client.Expect(ctx, http.MethodGet, "/healthz", nil, http.StatusOK); err != nil {
		return err
	}
	logger.Get().Info(ctx, "service is healthy")
	return nil
}

// cycleOverlays activates each overlay in turn and checks that tracking and
// the composite still answer.
func cycleOverlays(ctx context.Context, client *HTTPClient, cfg *Config, stats *Stats) error {
	_, body, err := client.Expect(ctx, http.MethodGet, "/overlays", nil, http.StatusOK)
	if err != nil {
		return err
	}
	var ids []string
	gjson.GetBytes(body, "overlays.#.def.id").ForEach(func(_, v gjson.Result) bool {
		ids = append(ids, v.String())
		return true
	})
	if len(cfg.Overlays) > 0 {
		for _, want := range cfg.Overlays {
			if !slices.Contains(ids, want) {
				return fmt.Errorf("%w: overlay %q is not defined", ErrVerification, want)
			}
		}
		ids = cfg.Overlays
	}

	for _, id := range ids {
		_, body, err := client.Expect(ctx, http.MethodPost, "/overlays/"+id+"/activate", nil, http.StatusOK)
		if err != nil {
			return err
		}
		if !gjson.GetBytes(body, "enabled").Bool() {
			return fmt.Errorf("%w: overlay %q not enabled after activate", ErrVerification, id)
		}
		pollTracking(ctx, client, stats)
		pollSnapshot(ctx, client, stats)
		stats.OverlaysCycled++
		logger.Get().Info(ctx, "overlay active",
			logger.String("id", id),
			logger.String("kind", gjson.GetBytes(body, "def.kind").String()))
	}
	return nil
}

type startBody struct {
	Format       string `json:"format,omitempty"`
	Preset       string `json:"preset,omitempty"`
	IncludeAudio bool   `json:"include_audio"`
}

// record starts a recording, runs pollers against the composite for its
// duration, optionally pauses midway, and stops it.
func record(ctx context.Context, client *HTTPClient, cfg *Config, stats *Stats) error {
	_, body, err := client.Expect(ctx, http.MethodPost, "/recording/start",
		startBody{Format: cfg.Format, Preset: cfg.Preset, IncludeAudio: cfg.Audio}, http.StatusCreated)
	if err != nil {
		return err
	}
	logger.Get().Info(ctx, "recording started",
		logger.String("id", gjson.GetBytes(body, "id").String()),
		logger.String("mimeType", gjson.GetBytes(body, "mime_type").String()),
		logger.Bool("substituted", gjson.GetBytes(body, "substituted").Bool()))

	pollCtx, stopPolling := context.WithCancel(ctx)
	var wg sync.WaitGroup
	for i := 0; i < cfg.Pollers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			t := time.NewTicker(cfg.PollInterval)
			defer t.Stop()
			for {
				select {
				case <-pollCtx.Done():
					return
				case <-t.C:
					if worker%2 == 0 {
						pollSnapshot(pollCtx, client, stats)
					} else {
						pollTracking(pollCtx, client, stats)
					}
					if cfg.Verbose {
						logger.Get().Debug(pollCtx, "poll",
							logger.Int("worker", worker),
							logger.Int64("snapshots", atomic.LoadInt64(&stats.Snapshots)))
					}
				}
			}
		}(i)
	}

	err = runTimeline(ctx, client, cfg)
	stopPolling()
	wg.Wait()
	if err != nil {
		return err
	}

	_, body, err = client.Expect(ctx, http.MethodPost, "/recording/stop", nil, http.StatusOK)
	if err != nil {
		return err
	}
	stats.RecordingID = gjson.GetBytes(body, "recording.id").String()
	stats.RecordedBytes = gjson.GetBytes(body, "result.size").Int()
	stats.Truncated = gjson.GetBytes(body, "result.truncated").Bool()
	if msg := gjson.GetBytes(body, "error").String(); msg != "" {
		logger.Get().Warn(ctx, "recording finished with error", logger.String("error", msg))
	}
	logger.Get().Info(ctx, "recording stopped",
		logger.String("id", stats.RecordingID),
		logger.Int64("bytes", stats.RecordedBytes),
		logger.Int64("chunks", gjson.GetBytes(body, "result.chunks").Int()),
		logger.String("sync", gjson.GetBytes(body, "result.sync.quality").String()))
	return nil
}

// runTimeline sleeps through the recording, splitting it around a pause
// when one is configured.
func runTimeline(ctx context.Context, client *HTTPClient, cfg *Config) error {
	if cfg.Pause <= 0 {
		return sleep(ctx, cfg.Record)
	}
	half := cfg.Record / 2
	if err := sleep(ctx, half); err != nil {
		return err
	}
	if _, _, err := client.Expect(ctx, http.MethodPost, "/recording/pause", nil, http.StatusOK); err != nil {
		return err
	}
	if err := sleep(ctx, cfg.Pause); err != nil {
		return err
	}
	if _, _, err := client.Expect(ctx, http.MethodPost, "/recording/resume", nil, http.StatusOK); err != nil {
		return err
	}
	return sleep(ctx, cfg.Record-half)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func pollTracking(ctx context.Context, client *HTTPClient, stats *Stats) {
	resp, body, err := client.Do(ctx, http.MethodGet, "/tracking", nil)
	atomic.AddInt64(&stats.TrackingPolls, 1)
	if err != nil || resp.StatusCode != http.StatusOK {
		return
	}
	if gjson.GetBytes(body, "status.tracking").Bool() {
		atomic.AddInt64(&stats.TrackingHits, 1)
	}
}

func pollSnapshot(ctx context.Context, client *HTTPClient, stats *Stats) {
	resp, body, err := client.Do(ctx, http.MethodGet, "/snapshot", nil)
	if err != nil || resp.StatusCode != http.StatusOK || !strings.HasPrefix(string(body), pngMagic) {
		atomic.AddInt64(&stats.SnapshotFailures, 1)
		return
	}
	atomic.AddInt64(&stats.Snapshots, 1)
}

// download fetches the stored recording and writes it under cfg.OutputDir.
func download(ctx context.Context, client *HTTPClient, cfg *Config, stats *Stats) error {
	if stats.RecordingID == "" {
		logger.Get().Warn(ctx, "no stored recording to download")
		return nil
	}
	resp, body, err := client.Expect(ctx, http.MethodGet, "/recordings/"+stats.RecordingID, nil, http.StatusOK)
	if err != nil {
		return err
	}
	stats.DownloadedBytes = int64(len(body))

	if cfg.OutputDir == "" {
		return nil
	}
	name := stats.RecordingID
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		name = filepath.Base(params["filename"])
	}
	if err := os.MkdirAll(cfg.OutputDir, directoryPermission); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	path := filepath.Join(cfg.OutputDir, name)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		return fmt.Errorf("failed to write recording: %w", err)
	}
	stats.DownloadedFile = path
	logger.Get().Info(ctx, "recording saved", logger.String("file", path))
	return nil
}

// verifyResults checks the run saw frames and received what was recorded.
func verifyResults(stats *Stats) error {
	if stats.Snapshots == 0 {
		return fmt.Errorf("%w: no composite snapshot succeeded", ErrVerification)
	}
	if stats.RecordingID != "" && stats.DownloadedBytes != stats.RecordedBytes {
		return fmt.Errorf("%w: downloaded %d bytes, recorded %d", ErrVerification, stats.DownloadedBytes, stats.RecordedBytes)
	}
	return nil
}

// displayFinalStats logs the final run statistics.
func displayFinalStats(ctx context.Context, stats *Stats) {
	var trackingRate float64
	if stats.TrackingPolls > 0 {
		trackingRate = float64(stats.TrackingHits) / float64(stats.TrackingPolls) * percentageMultiplier
	}

	logger.Get().Info(ctx, "final statistics",
		logger.Int("overlaysCycled", stats.OverlaysCycled),
		logger.Int64("trackingPolls", stats.TrackingPolls),
		logger.Float64("trackingRate", trackingRate),
		logger.Int64("snapshots", stats.Snapshots),
		logger.Int64("snapshotFailures", stats.SnapshotFailures),
		logger.String("recordingID", stats.RecordingID),
		logger.Int64("recordedBytes", stats.RecordedBytes),
		logger.Int64("downloadedBytes", stats.DownloadedBytes),
		logger.Bool("truncated", stats.Truncated),
		logger.Duration("duration", stats.Duration))
}
