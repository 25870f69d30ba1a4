// Package resultstore is the gateway between the run lifecycle and the
// object store holding packaged results artifacts.
package resultstore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
)

const (
	uploadTimeout  = 60 * time.Second
	presignTimeout = 10 * time.Second

	zipContentType = "application/zip"
)

// ErrStorage classifies provider-level failures. The message carried by the
// concrete *StorageError is always sanitized.
var ErrStorage = errors.New("storage error")

// StorageError wraps a provider failure with its credential material
// redacted. It unwraps to ErrStorage for errors.Is classification.
type StorageError struct {
	Op      string
	Message string
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *StorageError) Unwrap() error {
	return ErrStorage
}

// objectAPI is the slice of pkg/s3 the gateway needs; tests substitute a fake.
type objectAPI interface {
	PutObject(ctx context.Context, bucket, key string, data []byte, contentType, sha256Hex string) error
	PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

// Gateway uploads packaged artifacts and produces retrievable URLs.
type Gateway struct {
	client objectAPI
	bucket string
	logger *log.Logger
}

// NewGateway configures a Gateway for the given bucket.
func NewGateway(client objectAPI, bucket string, logger *log.Logger) (*Gateway, error) {
	bucket = strings.TrimSpace(bucket)
	if client == nil {
		return nil, errors.New("object store client is required")
	}
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Gateway{client: client, bucket: bucket, logger: logger}, nil
}

// Upload stores the artifact bytes under key and returns its location.
// Provider errors are sanitized before they are logged or returned; no code
// path sees the raw message.
func (g *Gateway) Upload(ctx context.Context, key string, data []byte, sha256Hex string) (Location, error) {
	if key == "" {
		return Location{}, errors.New("object key is required")
	}

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	if err := g.client.PutObject(ctx, g.bucket, key, data, zipContentType, sha256Hex); err != nil {
		serr := &StorageError{Op: "upload results", Message: Sanitize(err.Error())}
		g.logger.Printf("ERROR %s", serr)
		return Location{}, serr
	}

	loc := Location{Bucket: g.bucket, Key: key}
	g.logger.Printf("INFO uploaded results to %s (%d bytes)", loc, len(data))
	return loc, nil
}

// RetrievableURL accepts any historically valid location encoding and
// returns a presigned download URL valid for ttl.
func (g *Gateway) RetrievableURL(ctx context.Context, rawLocation string, ttl time.Duration) (string, error) {
	loc, err := ParseLocation(rawLocation)
	if err != nil {
		return "", err
	}

	if loc.Bucket != g.bucket {
		g.logger.Printf("WARN presigning for bucket %s, gateway configured for %s", loc.Bucket, g.bucket)
	}

	ctx, cancel := context.WithTimeout(ctx, presignTimeout)
	defer cancel()

	url, err := g.client.PresignGet(ctx, loc.Bucket, loc.Key, ttl)
	if err != nil {
		serr := &StorageError{Op: "presign results", Message: Sanitize(err.Error())}
		g.logger.Printf("ERROR %s", serr)
		return "", serr
	}
	return url, nil
}
