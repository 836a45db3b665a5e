package models

import "time"

// Recording formats.
const (
	RecordingFormatWAV  = "WAV"
	RecordingFormatMP3  = "MP3"
	RecordingFormatText = "TEXT" // Virtual recording anchoring text-only input.
)

// Recording statuses.
const (
	RecordingStatusUploaded   = "uploaded"
	RecordingStatusProcessing = "processing"
	RecordingStatusCompleted  = "completed"
	RecordingStatusError      = "error"
)

// Recording is an uploaded audio file, or a virtual recording for text input.
type Recording struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64 `gorm:"not null;index:idx_recordings_user_created,priority:1"` // Owning user ID.

	Title    string  `gorm:"type:text;not null"`       // Display title.
	Filename *string `gorm:"type:text;uniqueIndex"`    // Unique stored filename; nil for virtual recordings.
	BlobRef  string  `gorm:"type:text"`                // Blob store reference; empty for virtual recordings.
	Format   string  `gorm:"type:varchar(8);not null"` // WAV, MP3 or TEXT.

	DurationSeconds float64 `gorm:"not null;default:0"` // Audio length in seconds; 0 for TEXT.
	SizeBytes       int64   `gorm:"not null;default:0"` // Payload size in bytes.
	Language        string  `gorm:"type:varchar(16)"`   // BCP-47 language code.

	Status   string  `gorm:"type:varchar(16);not null;default:'uploaded'"` // Processing status.
	JobName  *string `gorm:"type:text;uniqueIndex"`                        // External transcription job handle.
	JobError string  `gorm:"type:text"`                                    // Terminal job failure reason.

	AudioExpired bool `gorm:"not null;default:false"` // Blob removed by retention.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index:idx_recordings_user_created,priority:2"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"`                                             // Last update timestamp.
}

// IsVirtual reports whether the recording has no audio blob.
func (r *Recording) IsVirtual() bool {
	return r != nil && r.Format == RecordingFormatText
}
