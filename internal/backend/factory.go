// Package backend builds the remote document store the sync engine talks to.
package backend

import (
	"fmt"
	"log/slog"

	"bilancio/internal/remote"
	"bilancio/internal/remote/memory"
	"bilancio/internal/remote/s3store"
)

// Factory creates document stores based on configuration
type Factory struct {
	logger *slog.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{logger: logger}
}

// Create returns the document store selected by config.
func (f *Factory) Create(config Config) (remote.DocumentStore, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case S3Backend:
		st, err := s3store.New(s3store.Config{
			Endpoint:  config.S3Endpoint,
			Bucket:    config.S3Bucket,
			Region:    config.S3Region,
			AccessKey: config.S3AccessKey,
			SecretKey: config.S3SecretKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize S3 document store: %w", err)
		}
		f.logger.Info("Initialized S3 document store", "bucket", config.S3Bucket, "endpoint", config.S3Endpoint)
		return st, nil
	default:
		f.logger.Info("Initialized in-memory document store")
		return memory.New(), nil
	}
}
