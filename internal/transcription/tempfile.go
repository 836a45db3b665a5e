package transcription

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/echolog/echolog-server/internal/apperr"
	log "github.com/sirupsen/logrus"
)

// tempFile is a request-scoped local copy of an upload. Release removes it
// exactly once no matter how many exit paths call it.
type tempFile struct {
	path   string
	size   int64
	once   sync.Once
	remove func(string) error
	onDone func()
}

// Release deletes the file. Later calls are no-ops.
func (f *tempFile) Release() {
	if f == nil {
		return
	}
	f.once.Do(func() {
		if errRemove := f.remove(f.path); errRemove != nil && !errors.Is(errRemove, os.ErrNotExist) {
			log.WithError(errRemove).WithField("path", f.path).Warn("failed to remove temp file")
		}
		if f.onDone != nil {
			f.onDone()
		}
	})
}

// Open reopens the staged file for reading.
func (f *tempFile) Open() (*os.File, error) {
	return os.Open(f.path)
}

// stage copies r into a new file under dir, enforcing maxBytes when positive.
// On error nothing is left on disk.
func (c *Coordinator) stage(r io.Reader, filename string, maxBytes int64) (*tempFile, error) {
	if r == nil {
		return nil, apperr.Validation("file is required")
	}
	dir := c.tempDir
	if dir == "" {
		dir = os.TempDir()
	}
	if errDir := os.MkdirAll(dir, 0o755); errDir != nil {
		return nil, fmt.Errorf("transcription: temp dir: %w", errDir)
	}
	out, errCreate := os.CreateTemp(dir, "upload-*"+filepath.Ext(filename))
	if errCreate != nil {
		return nil, fmt.Errorf("transcription: create temp file: %w", errCreate)
	}

	tmp := &tempFile{path: out.Name(), remove: c.removeFile, onDone: c.metrics.TempFilesRemoved.Inc}

	src := r
	if maxBytes > 0 {
		src = io.LimitReader(r, maxBytes+1)
	}
	written, errCopy := io.Copy(out, src)
	errClose := out.Close()
	switch {
	case errCopy != nil:
		tmp.Release()
		return nil, fmt.Errorf("transcription: stage upload: %w", errCopy)
	case errClose != nil:
		tmp.Release()
		return nil, fmt.Errorf("transcription: stage upload: %w", errClose)
	case maxBytes > 0 && written > maxBytes:
		tmp.Release()
		return nil, apperr.New(apperr.ErrValidation, "file too large", fmt.Sprintf("limit is %d bytes", maxBytes))
	case written == 0:
		tmp.Release()
		return nil, apperr.Validation("file is empty")
	}
	tmp.size = written
	return tmp, nil
}
