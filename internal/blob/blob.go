// Package blob defines the object store used for uploaded audio.
package blob

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"

	"github.com/echolog/echolog-server/internal/util"
	"github.com/google/uuid"
)

// ErrNotFound is returned when the referenced object does not exist.
var ErrNotFound = errors.New("blob: object not found")

// Object is a stored blob.
type Object struct {
	Ref       string // Backend key, e.g. audio/<uuid>-name.wav.
	Filename  string // Last path element of Ref; unique per upload.
	SignedURL string // Time-limited read URL.
	Size      int64
}

// Store is a single configured blob backend.
type Store interface {
	// Put uploads r under a UUID-qualified key derived from name.
	Put(ctx context.Context, r io.Reader, name, contentType string) (Object, error)
	// Get downloads the whole object.
	Get(ctx context.Context, ref string) ([]byte, error)
	// Delete removes the object; ErrNotFound when it is already gone.
	Delete(ctx context.Context, ref string) error
	// SignedURL returns a read URL valid for ttl.
	SignedURL(ctx context.Context, ref string, ttl time.Duration) (string, error)
	// URI returns a backend-native URI (gs://, s3://, file://) for ref.
	URI(ref string) string
	// Name identifies the backend in logs and metrics.
	Name() string
}

// NewKey builds a unique object key under prefix.
func NewKey(prefix, name string) string {
	clean := util.SanitizeFilename(name)
	if clean == "" {
		clean = "upload"
	}
	return JoinKey(prefix, uuid.NewString()+"-"+clean)
}

// JoinKey joins prefix and filename into an object key.
func JoinKey(prefix, filename string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return filename
	}
	return prefix + "/" + filename
}

// FilenameOf returns the filename part of ref.
func FilenameOf(ref string) string {
	return path.Base(ref)
}
