package retention

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/echolog/echolog-server/internal/blob"
	"github.com/echolog/echolog-server/internal/db"
	"github.com/echolog/echolog-server/internal/models"
	"github.com/echolog/echolog-server/internal/settings"
)

type fakeBlobs struct {
	objects map[string]bool
	failOn  string
	deleted []string
}

func (f *fakeBlobs) Put(context.Context, io.Reader, string, string) (blob.Object, error) {
	return blob.Object{}, errors.New("not implemented")
}
func (f *fakeBlobs) Get(context.Context, string) ([]byte, error) { return nil, blob.ErrNotFound }
func (f *fakeBlobs) Delete(_ context.Context, ref string) error {
	f.deleted = append(f.deleted, ref)
	if ref == f.failOn {
		return errors.New("permission denied")
	}
	if !f.objects[ref] {
		return blob.ErrNotFound
	}
	delete(f.objects, ref)
	return nil
}
func (f *fakeBlobs) SignedURL(context.Context, string, time.Duration) (string, error) {
	return "", nil
}
func (f *fakeBlobs) URI(ref string) string { return ref }
func (f *fakeBlobs) Name() string { return "fake" }

func TestCleanupOnceExpiresOldAudio(t *testing.T) {
	conn, errOpen := db.OpenMemory()
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	settings.StoreDBConfig(time.Now(), map[string]json.RawMessage{settings.FileRetentionDaysKey: json.RawMessage(`7`)})
	t.Cleanup(func() { settings.StoreDBConfig(time.Time{}, nil) })

	now := time.Date(2026, 6, 20, 12, 0, 0, 0, time.UTC)
	old := now.AddDate(0, 0, -10)
	recent := now.AddDate(0, 0, -2)

	rows := []models.Recording{
		{UserID: 1, Title: "old", BlobRef: "audio/old.wav", Format: models.RecordingFormatWAV, CreatedAt: old},
		{UserID: 1, Title: "gone", BlobRef: "audio/gone.wav", Format: models.RecordingFormatWAV, CreatedAt: old},
		{UserID: 1, Title: "locked", BlobRef: "audio/locked.wav", Format: models.RecordingFormatWAV, CreatedAt: old},
		{UserID: 1, Title: "recent", BlobRef: "audio/recent.wav", Format: models.RecordingFormatWAV, CreatedAt: recent},
		{UserID: 1, Title: "text", Format: models.RecordingFormatText, CreatedAt: old},
	}
	for i := range rows {
		if errCreate := conn.Create(&rows[i]).Error; errCreate != nil {
			t.Fatalf("create recording: %v", errCreate)
		}
	}

	blobs := &fakeBlobs{objects: map[string]bool{"audio/old.wav": true, "audio/locked.wav": true, "audio/recent.wav": true}, failOn: "audio/locked.wav"}
	cleaner := NewCleaner(conn, blobs, time.Hour)
	cleaner.now = func() time.Time { return now }
	cleaner.batchSize = 1

	if expired := cleaner.CleanupOnce(context.Background()); expired != 2 {
		t.Fatalf("expected 2 expired recordings, got %d", expired)
	}
	expectExpired := map[string]bool{"old": true, "gone": true, "locked": false, "recent": false, "text": false}
	var stored []models.Recording
	conn.Find(&stored)
	for _, rec := range stored {
		if rec.AudioExpired != expectExpired[rec.Title] {
			t.Fatalf("recording %s: expected expired=%v", rec.Title, expectExpired[rec.Title])
		}
	}
	if blobs.objects["audio/recent.wav"] != true {
		t.Fatalf("recent blob must be kept")
	}

	blobs.failOn = ""
	if expired := cleaner.CleanupOnce(context.Background()); expired != 1 {
		t.Fatalf("expected the previously failing blob to expire on the next run, got %d", expired)
	}
}

func TestCleanupDisabledWithZeroRetention(t *testing.T) {
	conn, _ := db.OpenMemory()
	settings.StoreDBConfig(time.Now(), map[string]json.RawMessage{settings.FileRetentionDaysKey: json.RawMessage(`0`)})
	t.Cleanup(func() { settings.StoreDBConfig(time.Time{}, nil) })

	cleaner := NewCleaner(conn, &fakeBlobs{}, 0)
	if cleaner.interval != defaultInterval {
		t.Fatalf("expected default interval, got %s", cleaner.interval)
	}
	if expired := cleaner.CleanupOnce(context.Background()); expired != 0 {
		t.Fatalf("expected no work, got %d", expired)
	}
	if NewCleaner(nil, &fakeBlobs{}, 0) != nil {
		t.Fatalf("expected nil cleaner without db")
	}
}
