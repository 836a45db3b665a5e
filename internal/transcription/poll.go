package transcription

import (
	"context"
	"errors"
	"strings"

	"github.com/echolog/echolog-server/internal/apperr"
	"github.com/echolog/echolog-server/internal/events"
	"github.com/echolog/echolog-server/internal/ident"
	"github.com/echolog/echolog-server/internal/models"
	"github.com/echolog/echolog-server/internal/speech"
	"github.com/echolog/echolog-server/internal/util"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Poll statuses.
const (
	PollInProgress = "in_progress"
	PollFailed     = "failed"
	PollCompleted  = "completed"
)

// PersistenceWarning is attached to completed results that were not saved.
const PersistenceWarning = "transcription was not saved; keep the text or resubmit the recording"

// PollResult is the state of a job as seen by the caller.
type PollResult struct {
	Status          string
	Progress        *speech.Progress
	Error           string
	Text            string
	TranscriptionID string
	RecordingID     uint64
	Persisted       bool
	Warning         string
}

// Poll reads the job's current state once. A completed job is persisted at
// most once; repeated polls return the stored transcript.
func (c *Coordinator) Poll(ctx context.Context, userID uint64, jobName string) (*PollResult, error) {
	jobName = strings.TrimSpace(jobName)
	if jobName == "" {
		return nil, apperr.Validation("job id is required")
	}

	recording, errRecording := c.recordingForJob(ctx, userID, jobName)
	if errRecording != nil {
		return nil, errRecording
	}
	if recording != nil {
		if stored, errStored := c.storedResult(ctx, recording); errStored != nil || stored != nil {
			return stored, errStored
		}
		if recording.Status == models.RecordingStatusError {
			return &PollResult{Status: PollFailed, Error: recording.JobError, RecordingID: recording.ID}, nil
		}
	}

	status, errPoll := c.speech.Poll(ctx, jobName)
	if errPoll != nil {
		return nil, apperr.External("speech", "poll", errPoll)
	}

	if !status.Done {
		progress := status.Progress
		return &PollResult{Status: PollInProgress, Progress: &progress, RecordingID: recordingID(recording)}, nil
	}

	if status.Err != nil {
		c.markFailed(ctx, recording, status.Err.Error())
		c.metrics.TranscriptionsFinished.WithLabelValues(PollFailed).Inc()
		c.emit(ctx, events.Event{Type: events.TypeFailed, UserID: userID, RecordingID: recordingID(recording), JobName: jobName, Error: status.Err.Error()})
		return &PollResult{Status: PollFailed, Error: status.Err.Error(), RecordingID: recordingID(recording)}, nil
	}

	text := strings.Join(status.Segments, " ")
	c.metrics.TranscriptionsFinished.WithLabelValues(PollCompleted).Inc()
	if recording == nil {
		return c.unpersisted(text, 0), nil
	}
	return c.persist(ctx, userID, jobName, recording, text), nil
}

// recordingForJob finds the recording that submitted jobName. A job owned by
// another user is reported as not found; an unknown job yields nil.
func (c *Coordinator) recordingForJob(ctx context.Context, userID uint64, jobName string) (*models.Recording, error) {
	var recording models.Recording
	errFind := c.db.WithContext(ctx).Where("job_name = ?", jobName).First(&recording).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if errFind != nil {
		return nil, errFind
	}
	if recording.UserID != userID {
		return nil, apperr.NotFound("transcription job")
	}
	return &recording, nil
}

func (c *Coordinator) storedResult(ctx context.Context, recording *models.Recording) (*PollResult, error) {
	var transcription models.Transcription
	errFind := c.db.WithContext(ctx).Where("recording_id = ?", recording.ID).First(&transcription).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if errFind != nil {
		return nil, errFind
	}
	return completedResult(&transcription), nil
}

// persist stores the transcript under a per-job lock. Failures downgrade to
// an unpersisted result instead of an error.
func (c *Coordinator) persist(ctx context.Context, userID uint64, jobName string, recording *models.Recording, text string) *PollResult {
	release, acquired, errLock := c.locker.TryLock(ctx, jobName, persistLockTTL)
	defer release()
	if errLock != nil {
		log.WithError(errLock).WithField("job", jobName).Warn("persist lock unavailable, relying on unique index")
		acquired = true
	}
	if !acquired {
		// Another poll is persisting right now.
		if stored, _ := c.storedResult(ctx, recording); stored != nil {
			return stored
		}
		return c.unpersisted(text, recording.ID)
	}
	if stored, _ := c.storedResult(ctx, recording); stored != nil {
		return stored
	}

	transcription := &models.Transcription{
		RecordingID: recording.ID,
		UserID:      userID,
		FullText:    text,
		Language:    recording.Language,
		WordCount:   util.WordCount(text),
		Status:      models.RecordingStatusCompleted,
	}
	if transcription.Language == "" {
		transcription.Language = c.speechCfg.LanguageCode
	}
	db := c.db.WithContext(ctx)
	if errCreate := db.Create(transcription).Error; errCreate != nil {
		if stored, _ := c.storedResult(ctx, recording); stored != nil {
			return stored
		}
		log.WithError(errCreate).WithField("recording_id", recording.ID).Error("failed to persist transcription")
		return c.unpersisted(text, recording.ID)
	}
	if errUpdate := db.Model(recording).Updates(map[string]any{"status": models.RecordingStatusCompleted, "job_error": ""}).Error; errUpdate != nil {
		log.WithError(errUpdate).WithField("recording_id", recording.ID).Warn("failed to mark recording completed")
	}

	c.emit(ctx, events.Event{
		Type:            events.TypeCompleted,
		UserID:          userID,
		RecordingID:     recording.ID,
		TranscriptionID: ident.FormatID(transcription.ID),
		JobName:         jobName,
		Source:          string(SourceAudio),
	})
	return completedResult(transcription)
}

// markFailed records the job failure on the recording so later polls answer
// from the row and the recording can be submitted again.
func (c *Coordinator) markFailed(ctx context.Context, recording *models.Recording, reason string) {
	if recording == nil {
		return
	}
	updates := map[string]any{"status": models.RecordingStatusError, "job_error": reason}
	if errUpdate := c.db.WithContext(ctx).Model(recording).Updates(updates).Error; errUpdate != nil {
		log.WithError(errUpdate).WithField("recording_id", recording.ID).Warn("failed to mark recording failed")
		return
	}
	recording.Status = models.RecordingStatusError
	recording.JobError = reason
}

func (c *Coordinator) unpersisted(text string, recordingID uint64) *PollResult {
	c.metrics.PersistenceSkipped.Inc()
	return &PollResult{
		Status:          PollCompleted,
		Text:            text,
		TranscriptionID: ident.NewTemporaryID(c.now()),
		RecordingID:     recordingID,
		Persisted:       false,
		Warning:         PersistenceWarning,
	}
}

func completedResult(transcription *models.Transcription) *PollResult {
	return &PollResult{
		Status:          PollCompleted,
		Text:            transcription.FullText,
		TranscriptionID: ident.FormatID(transcription.ID),
		RecordingID:     transcription.RecordingID,
		Persisted:       true,
	}
}

func recordingID(recording *models.Recording) uint64 {
	if recording == nil {
		return 0
	}
	return recording.ID
}
