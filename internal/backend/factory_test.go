package backend

import (
	"testing"

	"bilancio/internal/config"
	"bilancio/internal/remote/memory"
	"bilancio/internal/remote/s3store"
)

func TestFromAppConfig(t *testing.T) {
	cfg := FromAppConfig(&config.Config{RemoteBackend: "s3", S3Bucket: "family", S3Region: "eu-west-1"})
	if cfg.Type != S3Backend || cfg.S3Bucket != "family" || cfg.S3Region != "eu-west-1" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestFactoryCreate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
		check   func(t *testing.T, v any)
	}{
		{
			name:   "memory",
			config: Config{Type: MemoryBackend},
			check: func(t *testing.T, v any) {
				if _, ok := v.(*memory.Store); !ok {
					t.Errorf("expected *memory.Store, got %T", v)
				}
			},
		},
		{
			name:   "s3",
			config: Config{Type: S3Backend, S3Bucket: "family", S3Region: "us-east-1", S3Endpoint: "http://localhost:9000"},
			check: func(t *testing.T, v any) {
				if _, ok := v.(*s3store.Store); !ok {
					t.Errorf("expected *s3store.Store, got %T", v)
				}
			},
		},
		{name: "s3 without bucket", config: Config{Type: S3Backend}, wantErr: true},
		{name: "unknown", config: Config{Type: "ftp"}, wantErr: true},
	}

	f := NewFactory(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, err := f.Create(tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Create() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, st)
			}
		})
	}
}

func TestTypes(t *testing.T) {
	for _, typ := range Types() {
		if !typ.IsValid() {
			t.Errorf("%s should be valid", typ)
		}
	}
	if Type("sheets").IsValid() {
		t.Error("sheets is not a document store")
	}
}
