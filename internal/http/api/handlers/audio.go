package handlers

import (
	"net/http"
	"time"

	"github.com/echolog/echolog-server/internal/apperr"
	"github.com/echolog/echolog-server/internal/blob"
	"github.com/echolog/echolog-server/internal/models"
	"github.com/echolog/echolog-server/internal/settings"
	"github.com/echolog/echolog-server/internal/transcription"
	"github.com/gin-gonic/gin"
)

// multipartSlack covers form boundaries and text fields around the file.
const multipartSlack = 1 << 20

// AudioHandler handles audio upload, playback and deletion.
type AudioHandler struct {
	coordinator *transcription.Coordinator
	blobs       blob.Store
	playbackTTL time.Duration
}

// NewAudioHandler constructs an AudioHandler.
func NewAudioHandler(coordinator *transcription.Coordinator, blobs blob.Store, playbackTTL time.Duration) *AudioHandler {
	if playbackTTL <= 0 {
		playbackTTL = 15 * time.Minute
	}
	return &AudioHandler{coordinator: coordinator, blobs: blobs, playbackTTL: playbackTTL}
}

// Upload stores a WAV or MP3 file and creates its recording.
func (h *AudioHandler) Upload(c *gin.Context) {
	upload, errForm := formFile(c, "audio", settings.MaxUploadBytes()+multipartSlack)
	if errForm != nil {
		respondError(c, errForm)
		return
	}
	defer upload.File.Close()

	result, errUpload := h.coordinator.Upload(c.Request.Context(), getUserID(c), transcription.Source{
		Kind:            transcription.SourceAudio,
		File:            upload.File,
		Filename:        upload.Filename,
		ContentType:     upload.ContentType,
		Title:           c.PostForm("title"),
		Language:        c.PostForm("language"),
		DurationSeconds: formFloat(c, "duration"),
	})
	if errUpload != nil {
		respondError(c, errUpload)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":   "audio uploaded",
		"audioUrl":  result.SignedURL,
		"filename":  stringValue(result.Recording.Filename),
		"recording": recordingJSON(result.Recording),
	})
}

// Get redirects to a short-lived signed URL for the recording's audio.
func (h *AudioHandler) Get(c *gin.Context) {
	recording, errResolve := h.coordinator.ResolveRecording(c.Request.Context(), getUserID(c), c.Param("ref"))
	if errResolve != nil {
		respondError(c, errResolve)
		return
	}
	if recording.IsVirtual() || recording.BlobRef == "" || recording.AudioExpired {
		respondError(c, apperr.NotFound("audio file"))
		return
	}
	url, errSign := h.blobs.SignedURL(c.Request.Context(), recording.BlobRef, h.playbackTTL)
	if errSign != nil {
		respondError(c, apperr.External("storage", "sign url", errSign))
		return
	}
	c.Redirect(http.StatusFound, url)
}

// Delete removes the recording with its transcript, analysis and blob.
func (h *AudioHandler) Delete(c *gin.Context) {
	if errDelete := h.coordinator.DeleteRecording(c.Request.Context(), getUserID(c), c.Param("ref")); errDelete != nil {
		respondError(c, errDelete)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "audio deleted"})
}

func recordingJSON(recording *models.Recording) gin.H {
	if recording == nil {
		return nil
	}
	return gin.H{
		"id":              recording.ID,
		"title":           recording.Title,
		"filename":        recording.Filename,
		"format":          recording.Format,
		"durationSeconds": recording.DurationSeconds,
		"sizeBytes":       recording.SizeBytes,
		"language":        recording.Language,
		"status":          recording.Status,
		"audioExpired":    recording.AudioExpired,
		"createdAt":       recording.CreatedAt,
	}
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
