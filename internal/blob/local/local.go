// Package local stores blobs on the local filesystem and serves them through
// HMAC-signed URLs.
package local

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/echolog/echolog-server/internal/blob"
)

// RoutePrefix is where the HTTP layer serves local blobs.
const RoutePrefix = "/blobs/"

// Signature errors.
var (
	ErrBadSignature = errors.New("local: bad signature")
	ErrExpiredURL   = errors.New("local: url expired")
)

// Store implements blob.Store under a directory.
type Store struct {
	dir       string
	prefix    string
	baseURL   string
	secret    []byte
	uploadTTL time.Duration
	now       func() time.Time
}

// New creates dir if needed. baseURL is the public origin of this server.
func New(dir, prefix, baseURL, secret string, uploadTTL time.Duration) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("local: resolve dir: %w", err)
	}
	if errMkdir := os.MkdirAll(abs, 0o755); errMkdir != nil {
		return nil, fmt.Errorf("local: create dir: %w", errMkdir)
	}
	if secret == "" {
		return nil, errors.New("local: signing secret is required")
	}
	if uploadTTL <= 0 {
		uploadTTL = 24 * time.Hour
	}
	return &Store{
		dir:       abs,
		prefix:    prefix,
		baseURL:   strings.TrimRight(baseURL, "/"),
		secret:    []byte(secret),
		uploadTTL: uploadTTL,
		now:       time.Now,
	}, nil
}

// Name identifies the backend.
func (s *Store) Name() string { return "local" }

// URI returns a file:// URI.
func (s *Store) URI(ref string) string {
	path, err := s.Path(ref)
	if err != nil {
		return ""
	}
	return "file://" + filepath.ToSlash(path)
}

// Path resolves ref inside the store directory.
func (s *Store) Path(ref string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(strings.TrimLeft(ref, "/")))
	if clean == "." || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("local: invalid ref %q", ref)
	}
	return filepath.Join(s.dir, clean), nil
}

// Put writes the payload to disk.
func (s *Store) Put(ctx context.Context, r io.Reader, name, _ string) (blob.Object, error) {
	key := blob.NewKey(s.prefix, name)
	path, err := s.Path(key)
	if err != nil {
		return blob.Object{}, err
	}
	if errMkdir := os.MkdirAll(filepath.Dir(path), 0o755); errMkdir != nil {
		return blob.Object{}, fmt.Errorf("local: create dir: %w", errMkdir)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return blob.Object{}, fmt.Errorf("local: create %s: %w", key, err)
	}
	n, errCopy := io.Copy(f, r)
	errClose := f.Close()
	if errCopy != nil || errClose != nil {
		_ = os.Remove(path)
		return blob.Object{}, fmt.Errorf("local: write %s: %w", key, errors.Join(errCopy, errClose))
	}
	signed, _ := s.SignedURL(ctx, key, s.uploadTTL)
	return blob.Object{Ref: key, Filename: blob.FilenameOf(key), SignedURL: signed, Size: n}, nil
}

// Get reads the object.
func (s *Store) Get(_ context.Context, ref string) ([]byte, error) {
	path, err := s.Path(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("local: %s: %w", ref, blob.ErrNotFound)
	}
	return data, err
}

// Delete removes the object.
func (s *Store) Delete(_ context.Context, ref string) error {
	path, err := s.Path(ref)
	if err != nil {
		return err
	}
	if errRemove := os.Remove(path); errRemove != nil {
		if errors.Is(errRemove, fs.ErrNotExist) {
			return fmt.Errorf("local: %s: %w", ref, blob.ErrNotFound)
		}
		return fmt.Errorf("local: delete %s: %w", ref, errRemove)
	}
	return nil
}

// SignedURL returns a URL served by RoutePrefix that expires after ttl.
func (s *Store) SignedURL(_ context.Context, ref string, ttl time.Duration) (string, error) {
	expires := strconv.FormatInt(s.now().Add(ttl).Unix(), 10)
	query := url.Values{}
	query.Set("expires", expires)
	query.Set("signature", s.sign(ref, expires))
	return s.baseURL + RoutePrefix + ref + "?" + query.Encode(), nil
}

// Verify checks a signed URL's parameters.
func (s *Store) Verify(ref, expires, signature string) error {
	expected := s.sign(ref, expires)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrBadSignature
	}
	unix, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return ErrBadSignature
	}
	if s.now().Unix() > unix {
		return ErrExpiredURL
	}
	return nil
}

func (s *Store) sign(ref, expires string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(ref))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(expires))
	return hex.EncodeToString(mac.Sum(nil))
}
