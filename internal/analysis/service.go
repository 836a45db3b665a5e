// Package analysis runs generative analyses of transcripts and serves their history.
package analysis

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/echolog/echolog-server/internal/apperr"
	"github.com/echolog/echolog-server/internal/genai"
	"github.com/echolog/echolog-server/internal/ident"
	"github.com/echolog/echolog-server/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const previewLength = 100

// Payload is the structured analysis produced by the model.
type Payload struct {
	Summary  string                   `json:"summary"`
	Tone     string                   `json:"tone"`
	Keywords []string                 `json:"keywords"`
	Sections []models.AnalysisSection `json:"sections"`
}

func (p *Payload) normalize() {
	p.Summary = strings.TrimSpace(p.Summary)
	p.Tone = strings.TrimSpace(p.Tone)
	if p.Keywords == nil {
		p.Keywords = []string{}
	}
	if p.Sections == nil {
		p.Sections = []models.AnalysisSection{}
	}
	for i := range p.Sections {
		if p.Sections[i].Keywords == nil {
			p.Sections[i].Keywords = []string{}
		}
	}
}

// Result is a stored analysis.
type Result struct {
	ID              uint64
	Analysis        Payload
	TranscriptionID string
	CreatedAt       time.Time
	Existing        bool // Returned from storage instead of generated.
}

// Detail is a stored analysis with the text of its transcript.
type Detail struct {
	Result
	TranscriptionText string
}

// HistoryItem is one row of the analysis history.
type HistoryItem struct {
	ID                uint64
	Summary           string
	Keywords          []string
	CreatedAt         time.Time
	TranscriptionID   string
	TranscriptionDate *time.Time
	TextPreview       string
}

// Service owns the analysis workflow.
type Service struct {
	db        *gorm.DB
	generator genai.Generator
	genCfg    genai.GenerationConfig
}

// NewService wires the datastore and the text generator.
func NewService(db *gorm.DB, generator genai.Generator, maxOutputTokens int32) *Service {
	return &Service{db: db, generator: generator, genCfg: GenerationConfig(maxOutputTokens)}
}

// Analyze returns the stored analysis for transcriptionID when one exists,
// otherwise generates, stores and returns a new one.
func (s *Service) Analyze(ctx context.Context, userID uint64, text, transcriptionID string) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperr.Validation("text is required")
	}
	ref, errRef := ident.Classify(transcriptionID)
	if errRef != nil {
		return nil, apperr.Validation("transcriptionId is required")
	}
	if ref.Kind == ident.KindFilename {
		return nil, apperr.Validation("invalid transcriptionId")
	}

	db := s.db.WithContext(ctx)
	if ref.Kind == ident.KindID {
		var transcription models.Transcription
		errFind := db.Where("id = ? AND user_id = ?", ref.ID, userID).First(&transcription).Error
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("transcription")
		}
		if errFind != nil {
			return nil, errFind
		}
	}

	if existing, errExisting := s.findExisting(ctx, userID, ref); errExisting != nil {
		return nil, errExisting
	} else if existing != nil {
		log.WithField("transcription_id", transcriptionID).Info("analysis already exists")
		return existing, nil
	}

	if s.generator == nil {
		return nil, apperr.New(apperr.ErrExternalService, "generative model is not configured", "")
	}
	raw, errGen := s.generator.Generate(ctx, BuildPrompt(text), s.genCfg)
	if errGen != nil {
		return nil, apperr.External("genai", "generate", errGen)
	}
	payload, errDecode := DecodePayload(raw)
	if errDecode != nil {
		log.WithError(errDecode).Warn("analysis: model reply is not valid json")
		return nil, apperr.New(apperr.ErrInvalidModelOutput, "model response is not valid JSON", raw)
	}

	row := models.Analysis{
		UserID:   userID,
		Summary:  payload.Summary,
		Tone:     payload.Tone,
		Keywords: datatypes.JSONSlice[string](payload.Keywords),
		Sections: datatypes.JSONSlice[models.AnalysisSection](payload.Sections),
		RawText:  text,
	}
	if ref.Kind == ident.KindID {
		id := ref.ID
		row.TranscriptionID = &id
	} else {
		row.TemporaryTranscriptionID = ref.Value
	}
	if errCreate := db.Create(&row).Error; errCreate != nil {
		// A concurrent request may have stored the analysis first.
		if existing, errExisting := s.findExisting(ctx, userID, ref); errExisting == nil && existing != nil {
			return existing, nil
		}
		return nil, errCreate
	}

	return &Result{
		ID:              row.ID,
		Analysis:        payload,
		TranscriptionID: transcriptionID,
		CreatedAt:       row.CreatedAt,
	}, nil
}

func (s *Service) findExisting(ctx context.Context, userID uint64, ref ident.Ref) (*Result, error) {
	query := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if ref.Kind == ident.KindID {
		query = query.Where("transcription_id = ?", ref.ID)
	} else {
		query = query.Where("temporary_transcription_id = ?", ref.Value)
	}
	var row models.Analysis
	errFind := query.Order("id ASC").First(&row).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if errFind != nil {
		return nil, errFind
	}
	result := resultOf(&row)
	result.Existing = true
	return &result, nil
}

// Get loads one analysis owned by userID.
func (s *Service) Get(ctx context.Context, userID, id uint64) (*Detail, error) {
	db := s.db.WithContext(ctx)
	var row models.Analysis
	errFind := db.Where("id = ? AND user_id = ?", id, userID).First(&row).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("analysis")
	}
	if errFind != nil {
		return nil, errFind
	}

	detail := &Detail{Result: resultOf(&row)}
	if row.TranscriptionID != nil {
		var transcription models.Transcription
		errTranscription := db.Where("id = ? AND user_id = ?", *row.TranscriptionID, userID).First(&transcription).Error
		if errTranscription == nil {
			detail.TranscriptionText = transcription.FullText
		} else if !errors.Is(errTranscription, gorm.ErrRecordNotFound) {
			return nil, errTranscription
		}
	}
	return detail, nil
}

// History lists the user's analyses newest first, with the total count.
func (s *Service) History(ctx context.Context, userID uint64, limit, skip int) ([]HistoryItem, int64, error) {
	db := s.db.WithContext(ctx)

	var total int64
	if errCount := db.Model(&models.Analysis{}).Where("user_id = ?", userID).Count(&total).Error; errCount != nil {
		return nil, 0, errCount
	}

	var rows []models.Analysis
	errFind := db.Where("user_id = ?", userID).
		Order("created_at DESC").Order("id DESC").
		Offset(skip).Limit(limit).
		Find(&rows).Error
	if errFind != nil {
		return nil, 0, errFind
	}

	transcriptions, errLoad := loadTranscriptions(db, userID, rows)
	if errLoad != nil {
		return nil, 0, errLoad
	}

	items := make([]HistoryItem, 0, len(rows))
	for i := range rows {
		row := &rows[i]
		item := HistoryItem{
			ID:              row.ID,
			Summary:         row.Summary,
			Keywords:        nonNil([]string(row.Keywords)),
			CreatedAt:       row.CreatedAt,
			TranscriptionID: transcriptionRef(row),
			TextPreview:     Preview(row.RawText),
		}
		if row.TranscriptionID != nil {
			if transcription, ok := transcriptions[*row.TranscriptionID]; ok {
				createdAt := transcription.CreatedAt
				item.TranscriptionDate = &createdAt
				item.TextPreview = Preview(transcription.FullText)
			}
		}
		items = append(items, item)
	}
	return items, total, nil
}

// Mock returns a fixed analysis for frontend development without calling the model.
func Mock() Payload {
	return Payload{
		Summary:  "This is a conversation about a software project covering technology choices and deadlines. The team is evaluating React and Node.js for building the application.",
		Tone:     "Professional",
		Keywords: []string{"project", "development", "React", "Node.js", "deadline", "implementation"},
		Sections: []models.AnalysisSection{
			{
				Title:    "Technology discussion",
				Content:  "The discussion focuses mainly on choosing the technologies for the project.",
				Keywords: []string{"React", "Node.js", "frontend", "backend"},
			},
			{
				Title:    "Planning",
				Content:  "The project plan is discussed with particular attention to upcoming deadlines.",
				Keywords: []string{"deadline", "timeline", "sprint"},
			},
		},
	}
}

// Preview truncates text to the history preview length.
func Preview(text string) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= previewLength {
		return text
	}
	return string([]rune(text)[:previewLength]) + "..."
}

func loadTranscriptions(db *gorm.DB, userID uint64, rows []models.Analysis) (map[uint64]models.Transcription, error) {
	ids := make([]uint64, 0, len(rows))
	for i := range rows {
		if rows[i].TranscriptionID != nil {
			ids = append(ids, *rows[i].TranscriptionID)
		}
	}
	out := make(map[uint64]models.Transcription, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var transcriptions []models.Transcription
	if errFind := db.Where("user_id = ? AND id IN ?", userID, ids).Find(&transcriptions).Error; errFind != nil {
		return nil, errFind
	}
	for _, transcription := range transcriptions {
		out[transcription.ID] = transcription
	}
	return out, nil
}

func resultOf(row *models.Analysis) Result {
	payload := Payload{
		Summary:  row.Summary,
		Tone:     row.Tone,
		Keywords: []string(row.Keywords),
		Sections: []models.AnalysisSection(row.Sections),
	}
	payload.normalize()
	return Result{
		ID:              row.ID,
		Analysis:        payload,
		TranscriptionID: transcriptionRef(row),
		CreatedAt:       row.CreatedAt,
	}
}

func transcriptionRef(row *models.Analysis) string {
	if row.TranscriptionID != nil {
		return strconv.FormatUint(*row.TranscriptionID, 10)
	}
	return row.TemporaryTranscriptionID
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
