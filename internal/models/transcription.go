package models

import "time"

// Transcription stores the full transcript of one recording.
type Transcription struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	RecordingID uint64 `gorm:"not null;uniqueIndex"`                                      // Owning recording; one transcript per recording.
	UserID      uint64 `gorm:"not null;index:idx_transcriptions_user_created,priority:1"` // Owning user ID.

	FullText  string `gorm:"type:text;not null"`                            // Joined transcript text.
	Language  string `gorm:"type:varchar(16);not null"`                     // Language code, e.g. it-IT.
	WordCount int    `gorm:"not null;default:0"`                            // Whitespace-delimited word count.
	Status    string `gorm:"type:varchar(16);not null;default:'completed'"` // Processing status.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index:idx_transcriptions_user_created,priority:2"` // Creation timestamp.
}
