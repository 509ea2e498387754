package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/support/logger"
)

// gcsConnection implements Connection on Google Cloud Storage.
type gcsConnection struct {
	client *gcs.Client
	cfg    Config
	name   string
}

var _ Connection = (*gcsConnection)(nil)

// NewGCSConnection creates a Google Cloud Storage connection. When a
// credentials file is configured it is used explicitly; otherwise application
// default credentials apply.
func NewGCSConnection(ctx context.Context, cfg Config, name string) (Connection, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs storage connection '%s': failed to create client: %w", name, err)
	}
	return &gcsConnection{client: client, cfg: cfg, name: name}, nil
}

func (c *gcsConnection) Close() error { return c.client.Close() }

func (c *gcsConnection) Type() string { return "gcs" }

func (c *gcsConnection) Name() string { return c.name }

func (c *gcsConnection) bucket(bucket string) string {
	if bucket == "" {
		return c.cfg.BucketName
	}
	return bucket
}

func (c *gcsConnection) Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error {
	w := c.client.Bucket(c.bucket(bucket)).Object(objectName).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, data); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to upload object '%s': %w", objectName, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize upload of object '%s': %w", objectName, err)
	}
	logger.Debugf("Uploaded object 'gs://%s/%s' (connection '%s').", c.bucket(bucket), objectName, c.name)
	return nil
}

func (c *gcsConnection) Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error) {
	r, err := c.client.Bucket(c.bucket(bucket)).Object(objectName).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open object '%s': %w", objectName, err)
	}
	return r, nil
}

func (c *gcsConnection) ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error {
	it := c.client.Bucket(c.bucket(bucket)).Objects(ctx, &gcs.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to list objects under prefix '%s': %w", prefix, err)
		}
		if err := fn(attrs.Name); err != nil {
			return err
		}
	}
}

func (c *gcsConnection) DeleteObject(ctx context.Context, bucket, objectName string) error {
	err := c.client.Bucket(c.bucket(bucket)).Object(objectName).Delete(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		logger.Warnf("Attempted to delete non-existent object '%s' (connection '%s').", objectName, c.name)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete object '%s': %w", objectName, err)
	}
	return nil
}
