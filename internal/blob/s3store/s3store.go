// Package s3store stores blobs in Amazon S3.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3Types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/echolog/echolog-server/internal/blob"
	"github.com/echolog/echolog-server/internal/metrics"
)

const serviceName = "s3"

// API is the subset of the S3 client the store calls.
type API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Store implements blob.Store on a single bucket.
type Store struct {
	client    API
	presign   *s3.PresignClient
	bucket    string
	prefix    string
	uploadTTL time.Duration
}

// New loads the default AWS config and builds a Store.
func New(ctx context.Context, bucket, prefix, profile, region string, uploadTTL time.Duration) (*Store, error) {
	var opts []func(*config.LoadOptions) error
	if profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3store: load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return NewWithClient(client, s3.NewPresignClient(client), bucket, prefix, uploadTTL), nil
}

// NewWithClient wraps existing clients. presign may be nil, which disables signed URLs.
func NewWithClient(client API, presign *s3.PresignClient, bucket, prefix string, uploadTTL time.Duration) *Store {
	if uploadTTL <= 0 {
		uploadTTL = 24 * time.Hour
	}
	return &Store{client: client, presign: presign, bucket: bucket, prefix: prefix, uploadTTL: uploadTTL}
}

// Name identifies the backend.
func (s *Store) Name() string { return serviceName }

// URI returns the s3:// URI of ref.
func (s *Store) URI(ref string) string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, ref)
}

// Put uploads the payload. Seekable readers are streamed; anything else is
// buffered so the SDK can sign the body.
func (s *Store) Put(ctx context.Context, r io.Reader, name, contentType string) (blob.Object, error) {
	key := blob.NewKey(s.prefix, name)
	body, size, err := seekable(r)
	if err != nil {
		return blob.Object{}, fmt.Errorf("s3store: read payload: %w", err)
	}
	errPut := metrics.ObserveErr(serviceName, "put", func() error {
		_, errCall := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(key),
			Body:          body,
			ContentLength: aws.Int64(size),
			ContentType:   aws.String(contentType),
		})
		return errCall
	})
	if errPut != nil {
		return blob.Object{}, fmt.Errorf("s3store: upload %s: %w", key, errPut)
	}

	obj := blob.Object{Ref: key, Filename: blob.FilenameOf(key), Size: size}
	if s.presign != nil {
		signed, errSign := s.SignedURL(ctx, key, s.uploadTTL)
		if errSign != nil {
			return blob.Object{}, errSign
		}
		obj.SignedURL = signed
	}
	return obj, nil
}

// Get downloads the object.
func (s *Store) Get(ctx context.Context, ref string) ([]byte, error) {
	data, err := metrics.ObserveCall(serviceName, "get", func() ([]byte, error) {
		out, errGet := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(ref),
		})
		if errGet != nil {
			return nil, errGet
		}
		defer out.Body.Close()
		return io.ReadAll(out.Body)
	})
	if err != nil {
		return nil, translate(ref, err)
	}
	return data, nil
}

// Delete removes the object. S3 deletes are idempotent, so existence is checked first.
func (s *Store) Delete(ctx context.Context, ref string) error {
	err := metrics.ObserveErr(serviceName, "delete", func() error {
		if _, errHead := s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(ref),
		}); errHead != nil {
			return errHead
		}
		_, errDelete := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(ref),
		})
		return errDelete
	})
	return translate(ref, err)
}

// SignedURL presigns a GET request.
func (s *Store) SignedURL(ctx context.Context, ref string, ttl time.Duration) (string, error) {
	if s.presign == nil {
		return "", fmt.Errorf("s3store: presigning not configured")
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ref),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("s3store: sign %s: %w", ref, err)
	}
	return req.URL, nil
}

func translate(ref string, err error) error {
	if err == nil {
		return nil
	}
	var noSuchKey *s3Types.NoSuchKey
	var notFound *s3Types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return fmt.Errorf("s3store: %s: %w", ref, blob.ErrNotFound)
	}
	return fmt.Errorf("s3store: %s: %w", ref, err)
}

func seekable(r io.Reader) (io.ReadSeeker, int64, error) {
	if rs, ok := r.(io.ReadSeeker); ok {
		start, err := rs.Seek(0, io.SeekCurrent)
		if err != nil {
			return nil, 0, err
		}
		end, err := rs.Seek(0, io.SeekEnd)
		if err != nil {
			return nil, 0, err
		}
		if _, err = rs.Seek(start, io.SeekStart); err != nil {
			return nil, 0, err
		}
		return rs, end - start, nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, err
	}
	return bytes.NewReader(data), int64(len(data)), nil
}
