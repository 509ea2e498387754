package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/support/logger"
)

// localConnection implements Connection on the local file system. Buckets are
// directories under BaseDir and object names are relative file paths.
type localConnection struct {
	cfg  Config
	name string
}

var _ Connection = (*localConnection)(nil)

// NewLocalConnection creates a local file system storage connection. BaseDir
// is created when missing.
func NewLocalConnection(cfg Config, name string) (Connection, error) {
	if cfg.BaseDir == "" {
		return nil, fmt.Errorf("local storage connection '%s': base_dir must be specified", name)
	}
	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(cfg.BaseDir, 0o755); err != nil {
				return nil, fmt.Errorf("local storage connection '%s': failed to create base_dir '%s': %w", name, cfg.BaseDir, err)
			}
		} else {
			return nil, fmt.Errorf("local storage connection '%s': failed to stat base_dir '%s': %w", name, cfg.BaseDir, err)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("local storage connection '%s': base_dir '%s' is not a directory", name, cfg.BaseDir)
	}
	return &localConnection{cfg: cfg, name: name}, nil
}

func (c *localConnection) Close() error { return nil }

func (c *localConnection) Type() string { return "local" }

func (c *localConnection) Name() string { return c.name }

func (c *localConnection) Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error {
	fullPath, err := c.resolvePath(bucket, objectName)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for '%s': %w", fullPath, err)
	}
	file, err := os.Create(fullPath)
	if err != nil {
		return fmt.Errorf("failed to create file '%s': %w", fullPath, err)
	}
	defer file.Close()
	if _, err := io.Copy(file, data); err != nil {
		return fmt.Errorf("failed to write data to file '%s': %w", fullPath, err)
	}
	logger.Debugf("Uploaded object to '%s' (local connection '%s').", fullPath, c.name)
	return nil
}

func (c *localConnection) Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error) {
	fullPath, err := c.resolvePath(bucket, objectName)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open object '%s': %w", objectName, err)
	}
	return file, nil
}

func (c *localConnection) ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error {
	basePath, err := c.resolvePath(bucket, "")
	if err != nil {
		return err
	}
	err = filepath.WalkDir(basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		objectName, err := filepath.Rel(basePath, path)
		if err != nil {
			return fmt.Errorf("failed to relativize '%s': %w", path, err)
		}
		objectName = strings.ReplaceAll(objectName, "\\", "/")
		if prefix != "" && !strings.HasPrefix(objectName, prefix) {
			return nil
		}
		return fn(objectName)
	})
	if err != nil {
		return fmt.Errorf("failed to list objects under '%s' with prefix '%s': %w", basePath, prefix, err)
	}
	return nil
}

func (c *localConnection) DeleteObject(ctx context.Context, bucket, objectName string) error {
	fullPath, err := c.resolvePath(bucket, objectName)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			logger.Warnf("Attempted to delete non-existent object '%s' (local connection '%s').", objectName, c.name)
			return nil
		}
		return fmt.Errorf("failed to delete object '%s': %w", objectName, err)
	}
	return nil
}

// resolvePath joins BaseDir, bucket and objectName, rejecting paths that
// escape BaseDir.
func (c *localConnection) resolvePath(bucket, objectName string) (string, error) {
	if bucket == "" {
		bucket = c.cfg.BucketName
	}
	fullPath := filepath.Join(c.cfg.BaseDir, bucket, objectName)

	absBase, err := filepath.Abs(c.cfg.BaseDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base_dir '%s': %w", c.cfg.BaseDir, err)
	}
	absFull, err := filepath.Abs(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path '%s': %w", fullPath, err)
	}
	if !strings.HasPrefix(absFull, absBase) {
		return "", fmt.Errorf("resolved path '%s' is outside of base_dir '%s'", fullPath, c.cfg.BaseDir)
	}
	return fullPath, nil
}
