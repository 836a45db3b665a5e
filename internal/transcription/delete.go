package transcription

import (
	"context"
	"errors"
	"fmt"

	"github.com/echolog/echolog-server/internal/apperr"
	"github.com/echolog/echolog-server/internal/blob"
	"github.com/echolog/echolog-server/internal/events"
	"github.com/echolog/echolog-server/internal/ident"
	"github.com/echolog/echolog-server/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ResolveRecording classifies ref and loads the user's recording by id or by
// stored filename.
func (c *Coordinator) ResolveRecording(ctx context.Context, userID uint64, ref string) (*models.Recording, error) {
	parsed, err := ident.Classify(ref)
	if err != nil {
		return nil, err
	}
	query := c.db.WithContext(ctx).Where("user_id = ?", userID)
	switch parsed.Kind {
	case ident.KindID:
		query = query.Where("id = ?", parsed.ID)
	case ident.KindFilename:
		query = query.Where("filename = ?", parsed.Value)
	default:
		return nil, apperr.Validation("invalid recording reference")
	}
	var recording models.Recording
	errFind := query.First(&recording).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("recording")
	}
	if errFind != nil {
		return nil, errFind
	}
	return &recording, nil
}

// GetTranscription loads one of the user's transcriptions.
func (c *Coordinator) GetTranscription(ctx context.Context, userID uint64, rawID string) (*models.Transcription, error) {
	id, err := ident.ParseID(rawID)
	if err != nil {
		return nil, err
	}
	var transcription models.Transcription
	errFind := c.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&transcription).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("transcription")
	}
	if errFind != nil {
		return nil, errFind
	}
	return &transcription, nil
}

// DeleteTranscription removes a transcription with its analysis, recording
// and audio blob. Temporary ids only have analyses to remove.
func (c *Coordinator) DeleteTranscription(ctx context.Context, userID uint64, rawID string) error {
	parsed, err := ident.Classify(rawID)
	if err != nil {
		return err
	}
	db := c.db.WithContext(ctx)

	switch parsed.Kind {
	case ident.KindTemporary:
		res := db.Where("user_id = ? AND temporary_transcription_id = ?", userID, parsed.Value).Delete(&models.Analysis{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.NotFound("transcription")
		}
		c.emit(ctx, events.Event{Type: events.TypeDeleted, UserID: userID, TranscriptionID: parsed.Value})
		return nil
	case ident.KindID:
	default:
		return apperr.Validation("invalid transcription id")
	}

	var transcription models.Transcription
	errFind := db.Where("id = ? AND user_id = ?", parsed.ID, userID).First(&transcription).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return apperr.NotFound("transcription")
	}
	if errFind != nil {
		return errFind
	}

	var recording *models.Recording
	var row models.Recording
	errRecording := db.Where("id = ? AND user_id = ?", transcription.RecordingID, userID).First(&row).Error
	switch {
	case errRecording == nil:
		recording = &row
	case !errors.Is(errRecording, gorm.ErrRecordNotFound):
		log.WithError(errRecording).WithField("recording_id", transcription.RecordingID).Warn("failed to load recording for cascade")
	}
	return c.cascade(ctx, userID, recording, &transcription)
}

// DeleteRecording removes a recording and everything derived from it.
func (c *Coordinator) DeleteRecording(ctx context.Context, userID uint64, ref string) error {
	recording, err := c.ResolveRecording(ctx, userID, ref)
	if err != nil {
		return err
	}
	var transcription *models.Transcription
	var row models.Transcription
	errFind := c.db.WithContext(ctx).Where("recording_id = ? AND user_id = ?", recording.ID, userID).First(&row).Error
	switch {
	case errFind == nil:
		transcription = &row
	case !errors.Is(errFind, gorm.ErrRecordNotFound):
		return errFind
	}
	return c.cascade(ctx, userID, recording, transcription)
}

// cascade deletes analysis, recording, blob and transcription in that order.
// Every step is attempted; the blob step never fails the cascade.
func (c *Coordinator) cascade(ctx context.Context, userID uint64, recording *models.Recording, transcription *models.Transcription) error {
	db := c.db.WithContext(ctx)
	var errs []error

	if transcription != nil {
		if errAnalysis := db.Where("transcription_id = ? AND user_id = ?", transcription.ID, userID).Delete(&models.Analysis{}).Error; errAnalysis != nil {
			errs = append(errs, fmt.Errorf("delete analysis: %w", errAnalysis))
		}
	}

	if recording != nil {
		if errRecording := db.Delete(&models.Recording{}, recording.ID).Error; errRecording != nil {
			errs = append(errs, fmt.Errorf("delete recording: %w", errRecording))
		}
		c.deleteBlob(ctx, recording)
	}

	if transcription != nil {
		if errTranscription := db.Delete(&models.Transcription{}, transcription.ID).Error; errTranscription != nil {
			errs = append(errs, fmt.Errorf("delete transcription: %w", errTranscription))
		}
	}

	event := events.Event{Type: events.TypeDeleted, UserID: userID}
	if recording != nil {
		event.RecordingID = recording.ID
	}
	if transcription != nil {
		event.TranscriptionID = ident.FormatID(transcription.ID)
	}
	c.emit(ctx, event)

	return errors.Join(errs...)
}

func (c *Coordinator) deleteBlob(ctx context.Context, recording *models.Recording) {
	if recording.BlobRef == "" || recording.AudioExpired {
		return
	}
	errDelete := c.blobs.Delete(ctx, recording.BlobRef)
	switch {
	case errDelete == nil:
	case errors.Is(errDelete, blob.ErrNotFound):
		c.metrics.CascadeBlobMisses.Inc()
		log.WithField("ref", recording.BlobRef).Info("audio blob already gone")
	default:
		log.WithError(errDelete).WithField("ref", recording.BlobRef).Warn("failed to delete audio blob")
	}
}
