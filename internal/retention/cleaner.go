// Package retention expires uploaded audio once it passes the retention window.
package retention

import (
	"context"
	"errors"
	"time"

	"github.com/echolog/echolog-server/internal/blob"
	"github.com/echolog/echolog-server/internal/metrics"
	"github.com/echolog/echolog-server/internal/models"
	"github.com/echolog/echolog-server/internal/settings"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	defaultInterval  = 6 * time.Hour
	defaultBatchSize = 200
	maxBatchesPerRun = 500
)

// Cleaner periodically deletes audio blobs older than FILE_RETENTION_DAYS and
// marks their recordings expired. Rows are kept so transcripts stay readable.
type Cleaner struct {
	db        *gorm.DB
	blobs     blob.Store
	interval  time.Duration
	batchSize int
	now       func() time.Time
	metrics   *metrics.Metrics
}

// NewCleaner returns nil when either collaborator is missing.
func NewCleaner(db *gorm.DB, blobs blob.Store, interval time.Duration) *Cleaner {
	if db == nil || blobs == nil {
		return nil
	}
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Cleaner{
		db:        db,
		blobs:     blobs,
		interval:  interval,
		batchSize: defaultBatchSize,
		now:       time.Now,
		metrics:   metrics.DefaultMetrics,
	}
}

// Start launches the cleanup loop in a background goroutine.
func (c *Cleaner) Start(ctx context.Context) {
	if c == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go c.run(ctx)
	log.Infof("audio retention cleaner started (interval=%s)", c.interval)
}

func (c *Cleaner) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		c.CleanupOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		timer := time.NewTimer(c.interval)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return
		case <-timer.C:
		}
	}
}

// CleanupOnce runs one pass and returns how many recordings were expired.
func (c *Cleaner) CleanupOnce(ctx context.Context) int {
	if c == nil || c.db == nil {
		return 0
	}
	retentionDays := settings.FileRetentionDays()
	if retentionDays <= 0 {
		return 0
	}
	cutoff := c.now().UTC().AddDate(0, 0, -retentionDays)

	expiredTotal := 0
	var lastID uint64
	for i := 0; i < maxBatchesPerRun; i++ {
		if ctx.Err() != nil {
			break
		}
		batch, errBatch := c.nextBatch(ctx, cutoff, lastID)
		if errBatch != nil {
			log.WithError(errBatch).Warn("audio retention cleaner: load batch failed")
			break
		}
		if len(batch) == 0 {
			break
		}
		for j := range batch {
			lastID = batch[j].ID
			if c.expire(ctx, &batch[j]) {
				expiredTotal++
			}
		}
	}

	if expiredTotal > 0 {
		log.Infof("audio retention cleaner: expired %d recordings (cutoff=%s retention_days=%d)", expiredTotal, cutoff.Format(time.RFC3339), retentionDays)
	}
	return expiredTotal
}

func (c *Cleaner) nextBatch(ctx context.Context, cutoff time.Time, afterID uint64) ([]models.Recording, error) {
	var batch []models.Recording
	err := c.db.WithContext(ctx).
		Where("id > ? AND created_at < ? AND audio_expired = ? AND blob_ref <> ''", afterID, cutoff, false).
		Order("id ASC").
		Limit(c.batchSize).
		Find(&batch).Error
	return batch, err
}

// expire deletes one blob and flags its recording. A blob that is already
// gone still counts as expired.
func (c *Cleaner) expire(ctx context.Context, recording *models.Recording) bool {
	errDelete := c.blobs.Delete(ctx, recording.BlobRef)
	if errDelete != nil && !errors.Is(errDelete, blob.ErrNotFound) {
		log.WithError(errDelete).WithField("ref", recording.BlobRef).Warn("audio retention cleaner: delete blob failed")
		return false
	}
	errUpdate := c.db.WithContext(ctx).Model(&models.Recording{}).
		Where("id = ?", recording.ID).
		Update("audio_expired", true).Error
	if errUpdate != nil {
		log.WithError(errUpdate).WithField("recording_id", recording.ID).Warn("audio retention cleaner: mark expired failed")
		return false
	}
	c.metrics.RetentionBlobsGone.Inc()
	return true
}
