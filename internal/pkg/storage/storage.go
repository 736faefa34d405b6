// Package storage keeps invoice attachments on local disk or in S3.
package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"invoicehub/internal/config"

	"github.com/google/uuid"
)

// Storage saves attachment bytes and returns an opaque reference to them.
type Storage interface {
	Put(ctx context.Context, contentType string, r io.Reader, size int64) (string, error)
	Delete(ctx context.Context, ref string) error
}

var extensions = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"application/pdf": ".pdf",
}

// New builds the storage selected by cfg.Driver.
func New(ctx context.Context, cfg *config.StorageConfig) (Storage, error) {
	switch cfg.Driver {
	case "", "local":
		return NewLocal(cfg.LocalDir)
	case "s3":
		return NewS3(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// objectKey returns invoices/<year>/<month>/<uuid><ext>.
func objectKey(now time.Time, contentType string) string {
	return fmt.Sprintf("invoices/%d/%02d/%s%s", now.Year(), now.Month(), uuid.New(), extensions[contentType])
}
