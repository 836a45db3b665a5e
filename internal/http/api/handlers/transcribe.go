package handlers

import (
	"net/http"

	"github.com/echolog/echolog-server/internal/models"
	"github.com/echolog/echolog-server/internal/settings"
	"github.com/echolog/echolog-server/internal/transcription"
	"github.com/gin-gonic/gin"
)

// TranscribeHandler handles speech job submission, polling and transcript access.
type TranscribeHandler struct {
	coordinator *transcription.Coordinator
}

// NewTranscribeHandler constructs a TranscribeHandler.
func NewTranscribeHandler(coordinator *transcription.Coordinator) *TranscribeHandler {
	return &TranscribeHandler{coordinator: coordinator}
}

// transcribeRequest is the JSON form of a submit: a stored recording reference.
type transcribeRequest struct {
	RecordingID any    `json:"recordingId"`
	Language    string `json:"language"`
}

// Submit starts a speech job from a multipart "audio" upload or a JSON recordingId.
func (h *TranscribeHandler) Submit(c *gin.Context) {
	var source transcription.Source
	if isMultipart(c) {
		upload, errForm := formFile(c, "audio", settings.MaxUploadBytes()+multipartSlack)
		if errForm != nil {
			respondError(c, errForm)
			return
		}
		defer upload.File.Close()
		source = transcription.Source{
			Kind:            transcription.SourceAudio,
			File:            upload.File,
			Filename:        upload.Filename,
			ContentType:     upload.ContentType,
			Title:           c.PostForm("title"),
			Language:        c.PostForm("language"),
			DurationSeconds: formFloat(c, "duration"),
		}
	} else {
		var body transcribeRequest
		if errDecode := decodeJSON(c, &body); errDecode != nil {
			respondError(c, errDecode)
			return
		}
		ref, errRef := idString(body.RecordingID)
		if errRef != nil {
			respondError(c, errRef)
			return
		}
		source = transcription.Source{Kind: transcription.SourceRecording, RecordingRef: ref, Language: body.Language}
	}

	result, errSubmit := h.coordinator.Submit(c.Request.Context(), getUserID(c), source)
	if errSubmit != nil {
		respondError(c, errSubmit)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":     "transcription started",
		"status":      result.Status,
		"operationId": result.JobName,
		"audioUrl":    result.SignedURL,
		"recording":   recordingJSON(result.Recording),
	})
}

// Status polls a speech job once.
func (h *TranscribeHandler) Status(c *gin.Context) {
	result, errPoll := h.coordinator.Poll(c.Request.Context(), getUserID(c), c.Param("jobId"))
	if errPoll != nil {
		respondError(c, errPoll)
		return
	}
	switch result.Status {
	case transcription.PollInProgress:
		c.JSON(http.StatusOK, gin.H{"status": result.Status, "metadata": result.Progress})
	case transcription.PollFailed:
		c.JSON(http.StatusOK, gin.H{"status": result.Status, "error": result.Error})
	default:
		body := gin.H{
			"status":          result.Status,
			"transcription":   result.Text,
			"transcriptionId": result.TranscriptionID,
			"persisted":       result.Persisted,
		}
		if result.RecordingID != 0 {
			body["recordingId"] = result.RecordingID
		}
		if result.Warning != "" {
			body["warning"] = result.Warning
		}
		c.JSON(http.StatusOK, body)
	}
}

// Get returns one owned transcription.
func (h *TranscribeHandler) Get(c *gin.Context) {
	transcript, errGet := h.coordinator.GetTranscription(c.Request.Context(), getUserID(c), c.Param("id"))
	if errGet != nil {
		respondError(c, errGet)
		return
	}
	c.JSON(http.StatusOK, transcriptionJSON(transcript))
}

// Delete removes a transcription with its recording, analysis and blob.
func (h *TranscribeHandler) Delete(c *gin.Context) {
	if errDelete := h.coordinator.DeleteTranscription(c.Request.Context(), getUserID(c), c.Param("id")); errDelete != nil {
		respondError(c, errDelete)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "transcription deleted"})
}

func transcriptionJSON(transcript *models.Transcription) gin.H {
	if transcript == nil {
		return nil
	}
	return gin.H{
		"id":          transcript.ID,
		"recordingId": transcript.RecordingID,
		"fullText":    transcript.FullText,
		"language":    transcript.Language,
		"wordCount":   transcript.WordCount,
		"status":      transcript.Status,
		"createdAt":   transcript.CreatedAt,
	}
}
