package handlers

import (
	"net/http"

	"github.com/echolog/echolog-server/internal/analysis"
	"github.com/echolog/echolog-server/internal/ident"
	"github.com/gin-gonic/gin"
)

// AnalysisHandler handles transcript analysis endpoints.
type AnalysisHandler struct {
	service *analysis.Service
}

// NewAnalysisHandler constructs an AnalysisHandler.
func NewAnalysisHandler(service *analysis.Service) *AnalysisHandler {
	return &AnalysisHandler{service: service}
}

// analyzeRequest defines the request body for analysis.
type analyzeRequest struct {
	Text            string `json:"text"`
	TranscriptionID any    `json:"transcriptionId"`
}

// Analyze returns the stored analysis for the transcription or generates a new one.
func (h *AnalysisHandler) Analyze(c *gin.Context) {
	var body analyzeRequest
	if errDecode := decodeJSON(c, &body); errDecode != nil {
		respondError(c, errDecode)
		return
	}
	transcriptionID, errID := idString(body.TranscriptionID)
	if errID != nil {
		respondError(c, errID)
		return
	}

	result, errAnalyze := h.service.Analyze(c.Request.Context(), getUserID(c), body.Text, transcriptionID)
	if errAnalyze != nil {
		respondError(c, errAnalyze)
		return
	}
	message := "analysis completed"
	if result.Existing {
		message = "analysis already exists"
	}
	c.JSON(http.StatusOK, gin.H{
		"message":         message,
		"analysis":        result.Analysis,
		"id":              result.ID,
		"createdAt":       result.CreatedAt,
		"transcriptionId": result.TranscriptionID,
	})
}

// Get returns one owned analysis with its transcript text.
func (h *AnalysisHandler) Get(c *gin.Context) {
	id, errID := ident.ParseID(c.Param("id"))
	if errID != nil {
		respondError(c, errID)
		return
	}
	detail, errGet := h.service.Get(c.Request.Context(), getUserID(c), id)
	if errGet != nil {
		respondError(c, errGet)
		return
	}
	var transcriptionID any
	if detail.TranscriptionID != "" {
		transcriptionID = detail.TranscriptionID
	}
	c.JSON(http.StatusOK, gin.H{
		"analysis":          detail.Analysis,
		"id":                detail.ID,
		"createdAt":         detail.CreatedAt,
		"transcriptionId":   transcriptionID,
		"transcriptionText": detail.TranscriptionText,
	})
}

// History lists analyses newest first.
func (h *AnalysisHandler) History(c *gin.Context) {
	limit, skip := parsePaging(c)
	items, total, errHistory := h.service.History(c.Request.Context(), getUserID(c), limit, skip)
	if errHistory != nil {
		respondError(c, errHistory)
		return
	}
	analyses := make([]gin.H, 0, len(items))
	for _, item := range items {
		analyses = append(analyses, gin.H{
			"id":                item.ID,
			"summary":           item.Summary,
			"keywords":          item.Keywords,
			"createdAt":         item.CreatedAt,
			"transcriptionId":   item.TranscriptionID,
			"transcriptionDate": item.TranscriptionDate,
			"textPreview":       item.TextPreview,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"analyses": analyses,
		"total":    total,
		"limit":    limit,
		"skip":     skip,
	})
}

// Mock returns a fixed analysis without calling the model.
func (h *AnalysisHandler) Mock(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message":  "analysis completed (mock)",
		"analysis": analysis.Mock(),
	})
}
