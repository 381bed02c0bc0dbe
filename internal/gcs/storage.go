// Package gcs stores and fetches import files in Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
)

// StorageService provides an interface for cloud storage operations.
// This interface enables mocking and testing of storage functionality.
type StorageService interface {
	// UploadFile uploads a local file to bucketName under objectName and
	// returns its gs:// URI.
	UploadFile(ctx context.Context, bucketName, objectName, filePath string) (string, error)

	// FetchFromGCS downloads file bytes from the given storage URI.
	FetchFromGCS(ctx context.Context, gcsURI string) ([]byte, error)
}

// Service is the Cloud Storage implementation of StorageService. It holds a
// shared client.
type Service struct {
	client        *storage.Client
	uploadTimeout time.Duration
}

// NewService creates a Service using Application Default Credentials.
func NewService(ctx context.Context) (*Service, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewService: create storage client: %w", err)
	}
	return &Service{client: client, uploadTimeout: 2 * time.Minute}, nil
}

// Close closes the storage client.
func (s *Service) Close() error {
	return s.client.Close()
}

// UploadFile uploads a local file and returns its URI.
func (s *Service) UploadFile(ctx context.Context, bucketName, objectName, filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("UploadFile: open file %q: %w", filePath, err)
	}
	defer f.Close()
	return s.Upload(ctx, bucketName, objectName, f)
}

// Upload streams r into bucketName/objectName and returns its URI.
func (s *Service) Upload(ctx context.Context, bucketName, objectName string, r io.Reader) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.uploadTimeout)
	defer cancel()

	w := s.client.Bucket(bucketName).Object(objectName).NewWriter(ctx)
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("Upload: copy to GCS writer: %w", err)
	}
	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("Upload: finalize upload: %w", err)
	}
	return "gs://" + bucketName + "/" + objectName, nil
}

// FetchFromGCS downloads the file bytes from the given GCS URI.
func (s *Service) FetchFromGCS(ctx context.Context, gcsURI string) ([]byte, error) {
	bucketName, objectPath, err := ParseURI(gcsURI)
	if err != nil {
		return nil, err
	}

	rc, err := s.client.Bucket(bucketName).Object(objectPath).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("FetchFromGCS: reading object %s/%s: %w", bucketName, objectPath, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("FetchFromGCS: reading bytes: %w", err)
	}
	return data, nil
}

// ParseURI splits gs://bucket/path/to/file into bucket and object path.
func ParseURI(gcsURI string) (bucket, object string, err error) {
	if !strings.HasPrefix(gcsURI, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", gcsURI)
	}
	parts := strings.SplitN(strings.TrimPrefix(gcsURI, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", gcsURI)
	}
	return parts[0], parts[1], nil
}

// Filename extracts the file name from a GCS URI.
// e.g., "gs://bucket/folder/file.pdf" → "file.pdf"
func Filename(uri string) string {
	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) < 2 {
		return parts[0]
	}
	return path.Base(parts[1])
}

// ObjectName returns where an uploaded import file is kept:
// imports/<kind>/YYYY/MM/DD/<uuid>-<base name>.
func ObjectName(kind, filename string, now time.Time) string {
	return fmt.Sprintf("imports/%s/%s/%s-%s", kind, now.UTC().Format("2006/01/02"), uuid.NewString(), path.Base(filename))
}
