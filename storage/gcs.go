package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
)

// GCSBackend keeps the state in a single Cloud Storage object.
type GCSBackend struct {
	client *storage.Client
	logger *slog.Logger
	bucket string
	object string
}

// NewGCSBackend creates a backend for gs://bucket/object.
func NewGCSBackend(client *storage.Client, bucket, object string, logger *slog.Logger) *GCSBackend {
	return &GCSBackend{
		client: client,
		logger: logger,
		bucket: bucket,
		object: object,
	}
}

// Name identifies the backend in logs.
func (g *GCSBackend) Name() string {
	return fmt.Sprintf("gs://%s/%s", g.bucket, g.object)
}

// Read loads the object, retrying transient failures.
func (g *GCSBackend) Read(ctx context.Context) ([]byte, error) {
	var data []byte
	notFound := false
	err := retry.Do(
		func() error {
			r, openErr := g.client.Bucket(g.bucket).Object(g.object).NewReader(ctx)
			if openErr != nil {
				// Don't retry on "not found" errors
				if errors.Is(openErr, storage.ErrObjectNotExist) {
					notFound = true
					return retry.Unrecoverable(ErrNotExist)
				}
				return fmt.Errorf("open storage reader: %w", openErr)
			}
			defer func() {
				if closeErr := r.Close(); closeErr != nil {
					g.logger.Warn("Failed to close storage reader", "error", closeErr)
				}
			}()

			var readErr error
			data, readErr = io.ReadAll(r)
			if readErr != nil {
				return fmt.Errorf("read from storage: %w", readErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			g.logger.Info("Retrying load operation after error", "attempt", n, "object", g.object, "error", retryErr)
		}),
	)
	if notFound {
		return nil, ErrNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("load after retries: %w", err)
	}
	return data, nil
}

// Write uploads the object in a single attempt. Object uploads replace the
// previous generation atomically.
func (g *GCSBackend) Write(ctx context.Context, data []byte) error {
	w := g.client.Bucket(g.bucket).Object(g.object).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		if closeErr := w.Close(); closeErr != nil {
			g.logger.Warn("Failed to close writer after error", "error", closeErr)
		}
		return fmt.Errorf("write to storage: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close storage writer: %w", err)
	}
	return nil
}
