// Package transcription coordinates uploads, speech jobs, text ingestion and
// the cascading deletes that keep recordings, transcripts and analyses consistent.
package transcription

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/echolog/echolog-server/internal/apperr"
	"github.com/echolog/echolog-server/internal/blob"
	"github.com/echolog/echolog-server/internal/events"
	"github.com/echolog/echolog-server/internal/extract"
	"github.com/echolog/echolog-server/internal/ident"
	"github.com/echolog/echolog-server/internal/jobs"
	"github.com/echolog/echolog-server/internal/metrics"
	"github.com/echolog/echolog-server/internal/models"
	"github.com/echolog/echolog-server/internal/settings"
	"github.com/echolog/echolog-server/internal/speech"
	"github.com/echolog/echolog-server/internal/util"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// SourceKind selects the submit branch.
type SourceKind string

const (
	SourceAudio     SourceKind = "audio"
	SourceRecording SourceKind = "recording"
	SourceText      SourceKind = "text"
	SourceDocument  SourceKind = "document"
)

// Submit statuses.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
)

const persistLockTTL = 30 * time.Second

// Source is one submit request. Which fields apply depends on Kind.
type Source struct {
	Kind SourceKind

	// Audio and document uploads.
	File        io.Reader
	Filename    string
	ContentType string

	// Recording reference: numeric id or stored filename.
	RecordingRef string

	// Raw text.
	Text string

	Title           string
	Language        string
	DurationSeconds float64 // Client-reported audio length; used when the header cannot be read.
}

// SubmitResult is returned by Submit and Upload.
type SubmitResult struct {
	Status        string
	JobName       string
	Recording     *models.Recording
	Transcription *models.Transcription
	SignedURL     string
}

// Options holds the coordinator's collaborators. DB, Blobs and Speech are required.
type Options struct {
	DB           *gorm.DB
	Blobs        blob.Store
	Speech       speech.Transcriber
	SpeechConfig speech.Config
	Events       events.Emitter
	Locker       jobs.Locker
	Metrics      *metrics.Metrics
	TempDir      string
	RemoveFile   func(string) error
	Now          func() time.Time
}

// Coordinator implements the transcription workflow.
type Coordinator struct {
	db         *gorm.DB
	blobs      blob.Store
	speech     speech.Transcriber
	speechCfg  speech.Config
	events     events.Emitter
	locker     jobs.Locker
	metrics    *metrics.Metrics
	tempDir    string
	removeFile func(string) error
	now        func() time.Time
}

// NewCoordinator fills optional collaborators with no-op defaults.
func NewCoordinator(opts Options) *Coordinator {
	c := &Coordinator{
		db:         opts.DB,
		blobs:      opts.Blobs,
		speech:     opts.Speech,
		speechCfg:  opts.SpeechConfig,
		events:     opts.Events,
		locker:     opts.Locker,
		metrics:    opts.Metrics,
		tempDir:    opts.TempDir,
		removeFile: opts.RemoveFile,
		now:        opts.Now,
	}
	if c.events == nil {
		c.events = events.Nop{}
	}
	if c.locker == nil {
		c.locker = jobs.NoopLocker{}
	}
	if c.metrics == nil {
		c.metrics = metrics.DefaultMetrics
	}
	if c.removeFile == nil {
		c.removeFile = os.Remove
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.speechCfg.LanguageCode == "" {
		c.speechCfg.LanguageCode = "it-IT"
	}
	return c
}

// Submit starts transcription for source. Audio sources return a job handle
// to poll; text and document sources complete synchronously.
func (c *Coordinator) Submit(ctx context.Context, userID uint64, source Source) (*SubmitResult, error) {
	var (
		result *SubmitResult
		err    error
	)
	switch source.Kind {
	case SourceAudio:
		result, err = c.submitAudio(ctx, userID, source)
	case SourceRecording:
		result, err = c.submitRecording(ctx, userID, source)
	case SourceText:
		result, err = c.submitText(ctx, userID, source)
	case SourceDocument:
		result, err = c.submitDocument(ctx, userID, source)
	default:
		return nil, apperr.Validation("unsupported source")
	}
	if err != nil {
		return nil, err
	}
	c.metrics.TranscriptionsSubmitted.WithLabelValues(string(source.Kind)).Inc()
	return result, nil
}

// Upload stores an audio file and creates its Recording without starting a job.
func (c *Coordinator) Upload(ctx context.Context, userID uint64, source Source) (*SubmitResult, error) {
	recording, signedURL, tmp, err := c.storeAudio(ctx, userID, source)
	tmp.Release()
	if err != nil {
		return nil, err
	}
	return &SubmitResult{Status: recording.Status, Recording: recording, SignedURL: signedURL}, nil
}

func (c *Coordinator) submitAudio(ctx context.Context, userID uint64, source Source) (*SubmitResult, error) {
	recording, signedURL, tmp, err := c.storeAudio(ctx, userID, source)
	defer tmp.Release()
	if err != nil {
		return nil, err
	}

	audio := speech.Audio{URI: c.speechURI(recording.BlobRef)}
	if audio.URI == "" {
		content, errRead := os.ReadFile(tmp.path)
		if errRead != nil {
			return nil, errRead
		}
		audio.Content = content
	}
	jobName, errJob := c.startJob(ctx, userID, recording, audio, source.Language)
	if errJob != nil {
		return nil, errJob
	}
	return &SubmitResult{Status: StatusProcessing, JobName: jobName, Recording: recording, SignedURL: signedURL}, nil
}

// storeAudio stages, uploads and records an audio file. The returned temp
// file is non-nil whenever staging succeeded and must be released by the caller.
func (c *Coordinator) storeAudio(ctx context.Context, userID uint64, source Source) (*models.Recording, string, *tempFile, error) {
	format, errFormat := audioFormat(source.Filename, source.ContentType)
	if errFormat != nil {
		return nil, "", nil, errFormat
	}
	tmp, errStage := c.stage(source.File, source.Filename, settings.MaxUploadBytes())
	if errStage != nil {
		return nil, "", nil, errStage
	}

	f, errOpen := tmp.Open()
	if errOpen != nil {
		return nil, "", tmp, errOpen
	}
	obj, errPut := c.blobs.Put(ctx, f, source.Filename, contentTypeOf(format, source.ContentType))
	_ = f.Close()
	if errPut != nil {
		return nil, "", tmp, apperr.External("blob", "upload", errPut)
	}

	duration := source.DurationSeconds
	if format == models.RecordingFormatWAV {
		if parsed := wavDuration(tmp.path); parsed > 0 {
			duration = parsed
		}
	}
	filename := obj.Filename
	recording := &models.Recording{
		UserID:          userID,
		Title:           titleOf(source.Title, source.Filename),
		Filename:        &filename,
		BlobRef:         obj.Ref,
		Format:          format,
		DurationSeconds: duration,
		SizeBytes:       tmp.size,
		Language:        c.language(source.Language),
		Status:          models.RecordingStatusUploaded,
	}
	if errCreate := c.db.WithContext(ctx).Create(recording).Error; errCreate != nil {
		if errDelete := c.blobs.Delete(ctx, obj.Ref); errDelete != nil && !errors.Is(errDelete, blob.ErrNotFound) {
			log.WithError(errDelete).WithField("ref", obj.Ref).Warn("failed to remove orphaned blob")
		}
		return nil, "", tmp, errCreate
	}
	return recording, obj.SignedURL, tmp, nil
}

func (c *Coordinator) submitRecording(ctx context.Context, userID uint64, source Source) (*SubmitResult, error) {
	recording, err := c.ResolveRecording(ctx, userID, source.RecordingRef)
	if err != nil {
		return nil, err
	}
	if recording.IsVirtual() || recording.BlobRef == "" {
		return nil, apperr.Validation("recording has no audio")
	}
	if recording.AudioExpired {
		return nil, apperr.New(apperr.ErrNotFound, "audio not found", "audio file has passed its retention period")
	}

	var existing int64
	if errCount := c.db.WithContext(ctx).Model(&models.Transcription{}).Where("recording_id = ?", recording.ID).Count(&existing).Error; errCount != nil {
		return nil, errCount
	}
	if existing > 0 {
		return nil, apperr.Validation("recording is already transcribed")
	}
	if recording.Status == models.RecordingStatusProcessing && recording.JobName != nil {
		return &SubmitResult{Status: StatusProcessing, JobName: *recording.JobName, Recording: recording}, nil
	}

	audio := speech.Audio{URI: c.speechURI(recording.BlobRef)}
	if audio.URI == "" {
		content, errGet := c.blobs.Get(ctx, recording.BlobRef)
		if errors.Is(errGet, blob.ErrNotFound) {
			return nil, apperr.NotFound("audio")
		}
		if errGet != nil {
			return nil, apperr.External("blob", "download", errGet)
		}
		audio.Content = content
	}
	jobName, errJob := c.startJob(ctx, userID, recording, audio, source.Language)
	if errJob != nil {
		return nil, errJob
	}
	return &SubmitResult{Status: StatusProcessing, JobName: jobName, Recording: recording}, nil
}

func (c *Coordinator) startJob(ctx context.Context, userID uint64, recording *models.Recording, audio speech.Audio, language string) (string, error) {
	cfg := c.speechCfg
	cfg.LanguageCode = c.language(language)
	if recording.Language != "" && language == "" {
		cfg.LanguageCode = recording.Language
	}
	if recording.Format == models.RecordingFormatMP3 {
		cfg.Encoding = "MP3"
	}

	jobName, errSubmit := c.speech.Submit(ctx, audio, cfg)
	if errSubmit != nil {
		return "", apperr.External("speech", "submit", errSubmit)
	}

	updates := map[string]any{"job_name": jobName, "status": models.RecordingStatusProcessing, "job_error": ""}
	if errUpdate := c.db.WithContext(ctx).Model(recording).Updates(updates).Error; errUpdate != nil {
		log.WithError(errUpdate).WithField("job", jobName).Warn("failed to record job handle on recording")
	}
	recording.JobName = &jobName
	recording.Status = models.RecordingStatusProcessing

	c.emit(ctx, events.Event{Type: events.TypeSubmitted, UserID: userID, RecordingID: recording.ID, JobName: jobName, Source: string(SourceAudio)})
	log.WithFields(log.Fields{"job": jobName, "recording_id": recording.ID}).Info("transcription job submitted")
	return jobName, nil
}

func (c *Coordinator) submitText(ctx context.Context, userID uint64, source Source) (*SubmitResult, error) {
	text := strings.TrimSpace(source.Text)
	if text == "" {
		return nil, apperr.Validation("text is required")
	}
	title := strings.TrimSpace(source.Title)
	if title == "" {
		title = "Text " + c.now().UTC().Format("2006-01-02 15:04")
	}
	return c.storeText(ctx, userID, title, text, source.Language, SourceText)
}

func (c *Coordinator) submitDocument(ctx context.Context, userID uint64, source Source) (*SubmitResult, error) {
	ext := extract.ExtOf(source.Filename)
	if !extract.Supported(ext) {
		return nil, apperr.New(apperr.ErrUnsupportedFormat, "unsupported document format", "supported formats: pdf, docx, doc, txt")
	}
	tmp, errStage := c.stage(source.File, source.Filename, settings.MaxUploadBytes())
	if errStage != nil {
		return nil, errStage
	}
	defer tmp.Release()

	text, errExtract := extract.Extract(tmp.path, ext)
	if errExtract != nil {
		return nil, errExtract
	}
	return c.storeText(ctx, userID, titleOf(source.Title, source.Filename), text, source.Language, SourceDocument)
}

// storeText persists a virtual recording and its transcript together.
func (c *Coordinator) storeText(ctx context.Context, userID uint64, title, text, language string, kind SourceKind) (*SubmitResult, error) {
	recording := &models.Recording{
		UserID:    userID,
		Title:     title,
		Format:    models.RecordingFormatText,
		SizeBytes: int64(len(text)),
		Language:  c.language(language),
		Status:    models.RecordingStatusCompleted,
	}
	transcription := &models.Transcription{
		UserID:    userID,
		FullText:  text,
		Language:  recording.Language,
		WordCount: util.WordCount(text),
		Status:    models.RecordingStatusCompleted,
	}
	errTx := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errCreate := tx.Create(recording).Error; errCreate != nil {
			return errCreate
		}
		transcription.RecordingID = recording.ID
		return tx.Create(transcription).Error
	})
	if errTx != nil {
		return nil, errTx
	}

	c.emit(ctx, events.Event{
		Type:            events.TypeCompleted,
		UserID:          userID,
		RecordingID:     recording.ID,
		TranscriptionID: ident.FormatID(transcription.ID),
		Source:          string(kind),
	})
	c.metrics.TranscriptionsFinished.WithLabelValues(StatusCompleted).Inc()
	return &SubmitResult{Status: StatusCompleted, Recording: recording, Transcription: transcription}, nil
}

func (c *Coordinator) speechURI(ref string) string {
	uri := c.blobs.URI(ref)
	if strings.HasPrefix(uri, "gs://") {
		return uri
	}
	return ""
}

func (c *Coordinator) language(requested string) string {
	if lang := strings.TrimSpace(requested); lang != "" {
		return lang
	}
	return c.speechCfg.LanguageCode
}

func (c *Coordinator) emit(ctx context.Context, event events.Event) {
	if errPublish := c.events.Publish(ctx, event); errPublish != nil {
		log.WithError(errPublish).WithField("type", event.Type).Warn("failed to publish event")
	}
}

func audioFormat(filename, contentType string) (string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".wav":
		return models.RecordingFormatWAV, nil
	case ".mp3":
		return models.RecordingFormatMP3, nil
	}
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return models.RecordingFormatWAV, nil
	case "audio/mp3", "audio/mpeg":
		return models.RecordingFormatMP3, nil
	}
	return "", apperr.New(apperr.ErrUnsupportedFormat, "unsupported audio format", "use WAV or MP3")
}

func contentTypeOf(format, declared string) string {
	if declared = strings.TrimSpace(declared); declared != "" {
		return declared
	}
	if format == models.RecordingFormatMP3 {
		return "audio/mpeg"
	}
	return "audio/wav"
}

func titleOf(title, filename string) string {
	if title = strings.TrimSpace(title); title != "" {
		return title
	}
	base := filepath.Base(strings.TrimSpace(filename))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" || base == "." || base == "/" {
		return "Untitled"
	}
	return base
}
