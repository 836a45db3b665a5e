// Package gcs stores blobs in Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"github.com/echolog/echolog-server/internal/blob"
	"github.com/echolog/echolog-server/internal/metrics"
	"google.golang.org/api/option"
)

const serviceName = "gcs"

// Store implements blob.Store on a single bucket.
type Store struct {
	client    *storage.Client
	bucket    string
	prefix    string
	uploadTTL time.Duration
}

// New connects to Cloud Storage. credentialsFile is optional; application
// default credentials are used otherwise.
func New(ctx context.Context, bucket, prefix, credentialsFile string, uploadTTL time.Duration) (*Store, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs: new client: %w", err)
	}
	if uploadTTL <= 0 {
		uploadTTL = 24 * time.Hour
	}
	return &Store{client: client, bucket: bucket, prefix: prefix, uploadTTL: uploadTTL}, nil
}

// Close releases the client.
func (s *Store) Close() error { return s.client.Close() }

// Name identifies the backend.
func (s *Store) Name() string { return serviceName }

// URI returns the gs:// URI speech recognition reads from.
func (s *Store) URI(ref string) string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, ref)
}

// Put uploads the payload in a single non-resumable request.
func (s *Store) Put(ctx context.Context, r io.Reader, name, contentType string) (blob.Object, error) {
	key := blob.NewKey(s.prefix, name)
	size, err := metrics.ObserveCall(serviceName, "put", func() (int64, error) {
		w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
		w.ContentType = contentType
		w.ChunkSize = 0
		n, errCopy := io.Copy(w, r)
		if errCopy != nil {
			_ = w.Close()
			return 0, errCopy
		}
		if errClose := w.Close(); errClose != nil {
			return 0, errClose
		}
		return n, nil
	})
	if err != nil {
		return blob.Object{}, fmt.Errorf("gcs: upload %s: %w", key, err)
	}

	signed, err := s.SignedURL(ctx, key, s.uploadTTL)
	if err != nil {
		return blob.Object{}, err
	}
	return blob.Object{Ref: key, Filename: blob.FilenameOf(key), SignedURL: signed, Size: size}, nil
}

// Get downloads the object.
func (s *Store) Get(ctx context.Context, ref string) ([]byte, error) {
	data, err := metrics.ObserveCall(serviceName, "get", func() ([]byte, error) {
		reader, errReader := s.client.Bucket(s.bucket).Object(ref).NewReader(ctx)
		if errReader != nil {
			return nil, errReader
		}
		defer reader.Close()
		return io.ReadAll(reader)
	})
	if err != nil {
		return nil, translate(ref, err)
	}
	return data, nil
}

// Delete removes the object.
func (s *Store) Delete(ctx context.Context, ref string) error {
	err := metrics.ObserveErr(serviceName, "delete", func() error {
		return s.client.Bucket(s.bucket).Object(ref).Delete(ctx)
	})
	return translate(ref, err)
}

// SignedURL returns a V4 signed GET URL.
func (s *Store) SignedURL(_ context.Context, ref string, ttl time.Duration) (string, error) {
	url, err := s.client.Bucket(s.bucket).SignedURL(ref, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("gcs: sign %s: %w", ref, err)
	}
	return url, nil
}

func translate(ref string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("gcs: %s: %w", ref, blob.ErrNotFound)
	}
	return fmt.Errorf("gcs: %s: %w", ref, err)
}
