package repository

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()

	Convey("Given a store in a temp dir", t, func() {
		dir := t.TempDir()
		s, err := OpenSQLiteStore(ctx, filepath.Join(dir, "catalog.db"), WithDir(filepath.Join(dir, "files")))
		So(err, ShouldBeNil)
		defer s.Close()

		rec := Recording{
			ID:          "a1",
			Filename:    "recording-2026-01-02T03-04-05.000Z.webm",
			MimeType:    "video/webm;codecs=vp9",
			Extension:   "webm",
			DurationMs:  2000,
			SyncQuality: "excellent",
			HasAudio:    true,
			CreatedAt:   time.UnixMilli(1_700_000_000_000),
		}

		Convey("When a recording is stored", func() {
			stored, err := s.Put(ctx, rec, []byte("webm-bytes"))
			So(err, ShouldBeNil)

			Convey("Then the file exists and the metadata round-trips", func() {
				So(stored.SizeBytes, ShouldEqual, 10)
				_, statErr := os.Stat(stored.Path)
				So(statErr, ShouldBeNil)

				got, err := s.Get(ctx, "a1")
				So(err, ShouldBeNil)
				So(got.MimeType, ShouldEqual, rec.MimeType)
				So(got.HasAudio, ShouldBeTrue)
				So(got.DurationMs, ShouldEqual, 2000)
				So(got.CreatedAt.Equal(rec.CreatedAt), ShouldBeTrue)
			})

			Convey("Then it can be opened for download", func() {
				got, rc, err := s.Open(ctx, "a1")
				So(err, ShouldBeNil)
				defer rc.Close()
				b, _ := io.ReadAll(rc)
				So(string(b), ShouldEqual, "webm-bytes")
				So(got.Filename, ShouldEqual, rec.Filename)
			})

			Convey("Then deleting removes row and file", func() {
				So(s.Delete(ctx, "a1"), ShouldBeNil)
				_, err := s.Get(ctx, "a1")
				So(errors.Is(err, ErrNotFound), ShouldBeTrue)
				_, statErr := os.Stat(stored.Path)
				So(os.IsNotExist(statErr), ShouldBeTrue)
			})

			Convey("Then storing the same id again fails", func() {
				_, err := s.Put(ctx, rec, []byte("x"))
				So(err, ShouldNotBeNil)
			})
		})

		Convey("When several recordings exist", func() {
			for i, id := range []string{"old", "mid", "new"} {
				r := rec
				r.ID = id
				r.CreatedAt = rec.CreatedAt.Add(time.Duration(i) * time.Minute)
				_, err := s.Put(ctx, r, []byte{byte(i)})
				So(err, ShouldBeNil)
			}

			Convey("Then List returns newest first and honors the limit", func() {
				all, err := s.List(ctx, 0)
				So(err, ShouldBeNil)
				So(len(all), ShouldEqual, 3)
				So(all[0].ID, ShouldEqual, "new")
				two, _ := s.List(ctx, 2)
				So(len(two), ShouldEqual, 2)
				n, _ := s.Count(ctx)
				So(n, ShouldEqual, 3)
				_, err = s.List(ctx, -1)
				So(errors.Is(err, ErrInvalidLimit), ShouldBeTrue)
			})
		})

		Convey("When required fields are missing or unsafe", func() {
			_, err := s.Put(ctx, Recording{ID: "x"}, nil)
			So(errors.Is(err, ErrInvalidRecording), ShouldBeTrue)
			_, err = s.Put(ctx, Recording{ID: "x", Filename: "../escape.webm"}, nil)
			So(errors.Is(err, ErrInvalidRecording), ShouldBeTrue)
		})

		Convey("When the id is unknown", func() {
			_, _, err := s.Open(ctx, "nope")
			So(errors.Is(err, ErrNotFound), ShouldBeTrue)
		})
	})
}
