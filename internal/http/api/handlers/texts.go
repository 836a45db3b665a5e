package handlers

import (
	"net/http"

	"github.com/echolog/echolog-server/internal/settings"
	"github.com/echolog/echolog-server/internal/transcription"
	"github.com/gin-gonic/gin"
)

// TextHandler ingests raw text and documents as completed transcriptions.
type TextHandler struct {
	coordinator *transcription.Coordinator
}

// NewTextHandler constructs a TextHandler.
func NewTextHandler(coordinator *transcription.Coordinator) *TextHandler {
	return &TextHandler{coordinator: coordinator}
}

// textRequest defines the request body for raw text ingestion.
type textRequest struct {
	Title    string `json:"title"`
	Text     string `json:"text"`
	Language string `json:"language"`
}

// Create stores raw text.
func (h *TextHandler) Create(c *gin.Context) {
	var body textRequest
	if errDecode := decodeJSON(c, &body); errDecode != nil {
		respondError(c, errDecode)
		return
	}
	h.submit(c, transcription.Source{
		Kind:     transcription.SourceText,
		Text:     body.Text,
		Title:    body.Title,
		Language: body.Language,
	})
}

// Document stores the text extracted from a pdf, docx, doc or txt upload.
func (h *TextHandler) Document(c *gin.Context) {
	upload, errForm := formFile(c, "document", settings.MaxUploadBytes()+multipartSlack)
	if errForm != nil {
		respondError(c, errForm)
		return
	}
	defer upload.File.Close()

	h.submit(c, transcription.Source{
		Kind:        transcription.SourceDocument,
		File:        upload.File,
		Filename:    upload.Filename,
		ContentType: upload.ContentType,
		Title:       c.PostForm("title"),
		Language:    c.PostForm("language"),
	})
}

func (h *TextHandler) submit(c *gin.Context, source transcription.Source) {
	result, errSubmit := h.coordinator.Submit(c.Request.Context(), getUserID(c), source)
	if errSubmit != nil {
		respondError(c, errSubmit)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"status":        result.Status,
		"recording":     recordingJSON(result.Recording),
		"transcription": transcriptionJSON(result.Transcription),
	})
}
