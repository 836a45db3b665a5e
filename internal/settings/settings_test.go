package settings

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/echolog/echolog-server/internal/db"
	"github.com/echolog/echolog-server/internal/models"
)

func TestDBConfigIntAcceptsCommonEncodings(t *testing.T) {
	StoreDBConfig(time.Now(), map[string]json.RawMessage{
		"A": json.RawMessage(`12`),
		"B": json.RawMessage(`" 30 "`),
		"C": json.RawMessage(`{"value": 5}`),
		"D": json.RawMessage(`1.5`),
		"E": json.RawMessage(`"abc"`),
	})
	t.Cleanup(func() { StoreDBConfig(time.Time{}, nil) })

	cases := map[string]struct {
		want int
		ok   bool
	}{
		"A": {12, true},
		"B": {30, true},
		"C": {5, true},
		"D": {0, false},
		"E": {0, false},
		"Z": {0, false},
	}
	for key, tc := range cases {
		got, ok := DBConfigInt(key)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("%s: expected (%d, %v), got (%d, %v)", key, tc.want, tc.ok, got, ok)
		}
	}
}

func TestAccessorsFallBackToDefaults(t *testing.T) {
	StoreDBConfig(time.Now(), map[string]json.RawMessage{
		StorageLimitMBKey: json.RawMessage(`-1`),
	})
	t.Cleanup(func() { StoreDBConfig(time.Time{}, nil) })

	if got := FileRetentionDays(); got != DefaultFileRetentionDays {
		t.Fatalf("expected default retention, got %d", got)
	}
	if got := StorageLimitMB(); got != DefaultStorageLimitMB {
		t.Fatalf("expected default storage limit, got %d", got)
	}
	if got := MaxUploadBytes(); got != int64(DefaultMaxUploadMB)<<20 {
		t.Fatalf("expected default upload limit, got %d", got)
	}
}

func TestRefreshDBConfigSnapshotLoadsSettings(t *testing.T) {
	conn, errOpen := db.OpenMemory()
	if errOpen != nil {
		t.Fatalf("open sqlite: %v", errOpen)
	}
	if errCreate := conn.Create(&models.Setting{Key: FileRetentionDaysKey, Value: json.RawMessage(`3`)}).Error; errCreate != nil {
		t.Fatalf("create setting: %v", errCreate)
	}
	t.Cleanup(func() { StoreDBConfig(time.Time{}, nil) })

	if errRefresh := RefreshDBConfigSnapshot(context.Background(), conn); errRefresh != nil {
		t.Fatalf("refresh: %v", errRefresh)
	}
	if got := FileRetentionDays(); got != 3 {
		t.Fatalf("expected retention 3, got %d", got)
	}
}
