// Package storage defines the interface raw-object storage backends
// implement. The pipeline writes and reads partitioned objects through this
// interface, so GCS and the local file system are interchangeable. Tests
// run against the local backend, deployments against GCS.
package storage

import (
	"context"
	"io"
)

// Connection represents one configured storage backend.
type Connection interface {
	// Upload writes the data stream to bucket/objectName. contentType is
	// the MIME type of the data.
	Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error
	// Download opens the object for reading. The returned ReadCloser must
	// be closed by the caller.
	Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error)
	// ListObjects calls fn for every object under bucket whose name starts
	// with prefix. Returning an error from fn stops the listing.
	ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error
	// DeleteObject removes an object. Deleting a missing object is not an
	// error.
	DeleteObject(ctx context.Context, bucket, objectName string) error
	// Close releases resources held by the connection.
	Close() error
	// Type returns the backend type ("gcs" or "local").
	Type() string
	// Name returns the configured connection name.
	Name() string
}

// Config holds the configuration for a single named storage connection.
type Config struct {
	Type            string `yaml:"type"`             // "gcs" or "local".
	BucketName      string `yaml:"bucket_name"`      // Default bucket for operations.
	CredentialsFile string `yaml:"credentials_file"` // Service account key path for GCS.
	BaseDir         string `yaml:"base_dir"`         // Root directory for the local backend.
}
