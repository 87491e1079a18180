// Package repository holds the pipeline's shared state: the latest landmark
// snapshot written by the tracker, and the on-disk catalog of finished
// recordings.
package repository

import (
	"context"
	"io"
	"time"

	"github.com/okian/facefx/internal/domain/model"
)

// LandmarkStore is the tracker-facing side of the landmark cache.
type LandmarkStore interface {
	// Write adopts set unless it is older than the current snapshot.
	Write(set *model.LandmarkSet) bool
	// RecordNoFace notes a completed detection that found no face.
	RecordNoFace(capturedAt time.Time) bool
	RecordError(err error)
	MarkInitialized()
}

// LandmarkReader is the renderer-facing side of the landmark cache.
type LandmarkReader interface {
	Read() *model.LandmarkSet
	Status() Status
	Fresh(now time.Time, bound time.Duration) bool
}

// Recording is one finished recording on disk.
type Recording struct {
	ID              string    `json:"id"`
	Filename        string    `json:"filename"`
	Path            string    `json:"-"`
	MimeType        string    `json:"mime_type"`
	Extension       string    `json:"extension"`
	RequestedFormat string    `json:"requested_format"`
	Substituted     bool      `json:"substituted"`
	SizeBytes       int64     `json:"size_bytes"`
	DurationMs      int64     `json:"duration_ms"`
	HasAudio        bool      `json:"has_audio"`
	SyncQuality     string    `json:"sync_quality"`
	AvgDriftMs      float64   `json:"avg_drift_ms"`
	MaxDriftMs      float64   `json:"max_drift_ms"`
	Truncated       bool      `json:"truncated"`
	Error           string    `json:"error,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// RecordingStore persists recordings and their metadata.
type RecordingStore interface {
	// Put writes blob to disk and indexes it. ID and Filename must be set.
	Put(ctx context.Context, rec Recording, blob []byte) (Recording, error)
	Get(ctx context.Context, id string) (Recording, error)
	// Open returns the recording and a reader over its bytes.
	Open(ctx context.Context, id string) (Recording, io.ReadCloser, error)
	// List returns the newest recordings first.
	List(ctx context.Context, limit int) ([]Recording, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
	Close() error
}
