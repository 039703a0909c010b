// Package docstore fetches extracted document text from object storage.
// Documents carry either inline text or an object key; the store hydrates
// the latter before processing starts.
package docstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/diligentiq/engine/internal/types"
)

// Config holds object storage settings
type Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Endpoint: "localhost:9000",
		Bucket:   "diligence-documents",
	}
}

// Store reads and writes extracted document text
type Store interface {
	GetText(ctx context.Context, key string) (string, error)
	PutText(ctx context.Context, key, text string) error
	Hydrate(ctx context.Context, docs []*types.Document) error
}

// MinioStore is the object-storage backed implementation
type MinioStore struct {
	client *minio.Client
	bucket string
}

var _ Store = (*MinioStore)(nil)

// New connects to the object store and ensures the bucket exists
func New(ctx context.Context, cfg *Config) (*MinioStore, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to object store: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.Bucket, err)
		}
	}
	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

// GetText fetches the extracted text stored under a key
func (s *MinioStore) GetText(ctx context.Context, key string) (string, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to get object %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return "", fmt.Errorf("failed to read object %s: %w", key, err)
	}
	return string(data), nil
}

// PutText stores extracted text under a key
func (s *MinioStore) PutText(ctx context.Context, key, text string) error {
	reader := bytes.NewReader([]byte(text))
	_, err := s.client.PutObject(ctx, s.bucket, key, reader, int64(reader.Len()), minio.PutObjectOptions{
		ContentType: "text/plain; charset=utf-8",
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return nil
}

// Hydrate fills in Text for every document that carries an object key
// but no inline text. Documents with neither are left untouched; the
// pipeline handles them as empty.
func (s *MinioStore) Hydrate(ctx context.Context, docs []*types.Document) error {
	for _, doc := range docs {
		if strings.TrimSpace(doc.Text) != "" || doc.TextKey == "" {
			continue
		}
		text, err := s.GetText(ctx, doc.TextKey)
		if err != nil {
			return fmt.Errorf("failed to hydrate document %s: %w", doc.ID, err)
		}
		doc.Text = text
	}
	return nil
}

// NoopStore satisfies Store when no object storage is configured.
// Documents must then carry inline text.
type NoopStore struct{}

var _ Store = (*NoopStore)(nil)

// GetText always fails: no object storage is configured
func (NoopStore) GetText(ctx context.Context, key string) (string, error) {
	return "", fmt.Errorf("no object storage configured for key %s", key)
}

// PutText always fails: no object storage is configured
func (NoopStore) PutText(ctx context.Context, key, text string) error {
	return fmt.Errorf("no object storage configured for key %s", key)
}

// Hydrate leaves documents unchanged
func (NoopStore) Hydrate(ctx context.Context, docs []*types.Document) error {
	return nil
}
