package backend

import (
	"fmt"

	"bilancio/internal/config"
)

// Type selects the remote document store.
type Type string

const (
	MemoryBackend Type = "memory"
	S3Backend     Type = "s3"
)

// String implements fmt.Stringer
func (t Type) String() string {
	return string(t)
}

// IsValid returns true if the backend type is valid
func (t Type) IsValid() bool {
	switch t {
	case MemoryBackend, S3Backend:
		return true
	default:
		return false
	}
}

// Types returns all valid backend types
func Types() []Type {
	return []Type{MemoryBackend, S3Backend}
}

// Config holds configuration for backend creation
type Config struct {
	Type Type

	// S3 specific
	S3Endpoint  string
	S3Bucket    string
	S3Region    string
	S3AccessKey string
	S3SecretKey string
}

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) Config {
	return Config{
		Type:        Type(appConfig.RemoteBackend),
		S3Endpoint:  appConfig.S3Endpoint,
		S3Bucket:    appConfig.S3Bucket,
		S3Region:    appConfig.S3Region,
		S3AccessKey: appConfig.S3AccessKey,
		S3SecretKey: appConfig.S3SecretKey,
	}
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}
	if c.Type == S3Backend && c.S3Bucket == "" {
		return fmt.Errorf("S3 bucket is required for s3 backend")
	}
	return nil
}
