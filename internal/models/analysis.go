package models

import (
	"time"

	"gorm.io/datatypes"
)

// AnalysisSection is one titled block of a generated analysis.
type AnalysisSection struct {
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Keywords []string `json:"keywords"`
}

// Analysis stores a generative model analysis of a transcript.
type Analysis struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64 `gorm:"not null;index:idx_analyses_user_created,priority:1"` // Owning user ID.

	TranscriptionID          *uint64 `gorm:"uniqueIndex"` // Linked transcription; nil for unsaved transcripts.
	TemporaryTranscriptionID string  `gorm:"type:text"`   // Synthetic id of an unsaved transcript.

	Summary  string                               `gorm:"type:text;not null"`               // Generated summary.
	Tone     string                               `gorm:"type:text"`                        // Detected tone.
	Keywords datatypes.JSONSlice[string]          `gorm:"type:jsonb;not null;default:'[]'"` // Top keywords.
	Sections datatypes.JSONSlice[AnalysisSection] `gorm:"type:jsonb;not null;default:'[]'"` // Generated sections.
	RawText  string                               `gorm:"type:text;not null"`               // Analyzed text.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index:idx_analyses_user_created,priority:2"` // Creation timestamp.
}
