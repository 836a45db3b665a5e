// Package speech defines the long-running speech-to-text job interface.
package speech

import (
	"context"
	"errors"
	"time"
)

// ErrNoResults marks a job that finished without any recognized speech.
var ErrNoResults = errors.New("speech: no results in transcription")

// Config holds recognition settings sent with each job.
type Config struct {
	LanguageCode               string
	SampleRateHertz            int32
	Encoding                   string // LINEAR16, MP3, FLAC, ...
	Model                      string
	UseEnhanced                bool
	EnableAutomaticPunctuation bool
	EnableWordTimeOffsets      bool
}

// Audio is either a backend URI the service can read or inline content.
type Audio struct {
	URI     string
	Content []byte
}

// Progress is whatever progress metadata the service exposes.
type Progress struct {
	Percent    int32     `json:"progressPercent"`
	StartTime  time.Time `json:"startTime,omitempty"`
	LastUpdate time.Time `json:"lastUpdateTime,omitempty"`
}

// Status is the result of one poll.
type Status struct {
	Done     bool
	Segments []string // Result transcripts in service order; set when Done and Err is nil.
	Err      error    // Terminal job failure; set only when Done.
	Progress Progress
}

// Transcriber submits and polls long-running transcription jobs. A non-nil
// error from Poll means the service itself could not be reached; job failures
// are reported through Status.Err.
type Transcriber interface {
	Submit(ctx context.Context, audio Audio, cfg Config) (string, error)
	Poll(ctx context.Context, jobName string) (Status, error)
}
