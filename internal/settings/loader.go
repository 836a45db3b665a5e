package settings

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/echolog/echolog-server/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RefreshDBConfigSnapshot reloads all settings from the database and updates the in-memory snapshot.
//
// The server calls it at startup and on every refresh tick so retention and
// storage limit changes apply without a restart.
func RefreshDBConfigSnapshot(ctx context.Context, db *gorm.DB) error {
	if db == nil {
		return errors.New("settings: nil db")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var rows []models.Setting
	if errFind := db.WithContext(ctx).
		Select("key", "value", "updated_at").
		Order("key ASC").
		Find(&rows).Error; errFind != nil {
		return errFind
	}

	values := make(map[string]json.RawMessage, len(rows))
	maxUpdatedAt := time.Time{}
	maxUpdatedKey := ""
	for _, row := range rows {
		key := strings.TrimSpace(row.Key)
		if key == "" {
			continue
		}
		values[key] = row.Value
		rowUpdatedAt := row.UpdatedAt.UTC()
		if rowUpdatedAt.After(maxUpdatedAt) || (rowUpdatedAt.Equal(maxUpdatedAt) && key > maxUpdatedKey) {
			maxUpdatedAt = rowUpdatedAt
			maxUpdatedKey = key
		}
	}

	if previous := DBConfigUpdatedAt(); maxUpdatedAt.After(previous) && !previous.IsZero() {
		log.WithField("key", maxUpdatedKey).Info("settings: snapshot changed")
	}
	StoreDBConfig(maxUpdatedAt, values)
	return nil
}

// StartRefresher reloads the snapshot every interval until ctx is done.
func StartRefresher(ctx context.Context, db *gorm.DB, interval time.Duration) {
	if db == nil || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if errRefresh := RefreshDBConfigSnapshot(ctx, db); errRefresh != nil {
					log.WithError(errRefresh).Warn("settings: refresh snapshot failed")
				}
			}
		}
	}()
}
